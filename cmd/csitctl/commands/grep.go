package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gocsit/internal/procsup"
)

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func grepCmd(a *app) *cobra.Command {
	var atLeast int

	cmd := &cobra.Command{
		Use:   "grep <file> <text>",
		Short: "Count lines of a log file containing text, optionally waiting for a threshold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, text := args[0], args[1]

			var (
				n   int
				err error
			)
			if cmd.Flags().Changed("at-least") {
				n, err = a.sup.WaitForOccurrences(cmd.Context(), path, text, atLeast, a.cfg.RetryPolicy())
			} else {
				n, err = procsup.CountOccurrences(path, text)
			}
			if err != nil {
				return err
			}

			v := countView{File: path, Text: text, Count: n}
			return a.render(v, v.table)
		},
	}

	cmd.Flags().IntVar(&atLeast, "at-least", 0, "wait within policy.retry until the count reaches this")

	return cmd
}
