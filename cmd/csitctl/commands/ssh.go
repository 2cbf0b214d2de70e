package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sshCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh",
		Short: "Run commands and copy files on the SSH target",
	}

	cmd.AddCommand(sshRunCmd(a))
	cmd.AddCommand(sshPutCmd(a))

	return cmd
}

func sshRunCmd(a *app) *cobra.Command {
	var exec bool

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command>",
		Short: "Run a command on the SSH target and report its exit code and output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := commandFromArgs(args, exec)
			res, err := a.remote().Run(cmd.Context(), c)
			if err != nil {
				return err
			}
			v := resultToView(c, res)
			if err := a.render(v, v.table); err != nil {
				return err
			}
			if !res.Success() {
				return fmt.Errorf("%w: %d", errNonZeroExit, res.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exec, "exec", false, "quote each argument instead of passing a shell line")

	return cmd
}

func sshPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> <remote-path>",
		Short: "Copy a local file to the SSH target, keeping its mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote().PutFile(cmd.Context(), args[0], args[1])
		},
	}
}
