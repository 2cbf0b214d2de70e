// Package commands implements the csitctl CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd builds the csitctl command tree around a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "csitctl",
		Short: "System integration test steps for network controllers",
		Long: "csitctl runs tool processes locally or over SSH, waits for RESTCONF and BGP\n" +
			"observables to converge, and issues LSP update load against the controller.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		// Silence cobra's built-in usage/error printing so we control it.
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to configuration file (YAML)")
	flags.StringVar(&a.logLevel, "log-level", "", "override log.level: debug, info, warn, error")
	flags.StringVar(&a.format, "format", formatTable, "output format: table, json, yaml")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	root.AddCommand(runCmd(a))
	root.AddCommand(startCmd(a))
	root.AddCommand(waitCmd(a))
	root.AddCommand(bgpCmd(a))
	root.AddCommand(sshCmd(a))
	root.AddCommand(updateCmd(a))
	root.AddCommand(grepCmd(a))
	root.AddCommand(versionCmd(a))

	return root
}

// Run executes csitctl with args, writing results to out and logs to
// logOut. Resources set up for the command are released before it returns,
// whether the command succeeded or not.
func Run(ctx context.Context, out, logOut io.Writer, args []string) error {
	a := &app{out: out, logOut: logOut}
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

// Execute runs csitctl and returns the process exit code. SIGINT and
// SIGTERM cancel the running step, which stops any process it started.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
