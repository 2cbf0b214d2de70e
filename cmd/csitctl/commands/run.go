package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gocsit/internal/config"
	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/probe"
	"github.com/dantte-lp/gocsit/internal/procsup"
)

// outputTailLines is how much process output a step reports.
const outputTailLines = 20

// errNonZeroExit is returned after rendering a command that failed.
var errNonZeroExit = errors.New("command exited with non-zero code")

// commandFromArgs builds a shell command from args, or an argv command
// when exec is set.
func commandFromArgs(args []string, exec bool) procsup.Command {
	if exec {
		return procsup.Exec(args[0], args[1:]...)
	}
	return procsup.Shell(strings.Join(args, " "))
}

func resultToView(cmd procsup.Command, r procsup.Result) resultView {
	return resultView{
		Command:  cmd.String(),
		ExitCode: r.ExitCode,
		Duration: r.Duration.Round(time.Millisecond).String(),
		Stdout:   strings.TrimRight(r.Stdout, "\n"),
		Stderr:   strings.TrimRight(r.Stderr, "\n"),
	}
}

func runCmd(a *app) *cobra.Command {
	var (
		timeout      time.Duration
		dir          string
		exec         bool
		untilSuccess bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command>",
		Short: "Run a foreground command and report its exit code and output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := commandFromArgs(args, exec)
			c.Dir = dir
			c.Timeout = a.cfg.Scale(timeout)

			var (
				res procsup.Result
				err error
			)
			if untilSuccess {
				res, err = a.sup.RunUntilSuccess(cmd.Context(), c, a.cfg.RetryPolicy())
			} else {
				res, err = a.sup.Run(cmd.Context(), c)
			}
			if err != nil && !errors.Is(err, converge.ErrRetryExhausted) {
				return err
			}

			v := resultToView(c, res)
			if rerr := a.render(v, v.table); rerr != nil {
				return rerr
			}
			if err != nil {
				return err
			}
			if !res.Success() {
				return fmt.Errorf("%w: %d", errNonZeroExit, res.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "kill the command after this long (scaled by duration_multiplier)")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory")
	cmd.Flags().BoolVar(&exec, "exec", false, "run the arguments as argv instead of a shell line")
	cmd.Flags().BoolVar(&untilSuccess, "until-success", false, "rerun until exit code 0 within policy.retry")

	return cmd
}

// stepOptions are the observations a start step makes between start and stop.
type stepOptions struct {
	remote      bool
	exec        bool
	waitOutput  string
	stablePath  string
	stableQuery string
	volatile    []string
	hold        time.Duration
	force       bool
}

func startCmd(a *app) *cobra.Command {
	var opts stepOptions

	cmd := &cobra.Command{
		Use:   "start [flags] -- <command>",
		Short: "Run one test step around a background tool",
		Long: "Starts the command in the background, verifies it stays alive, optionally\n" +
			"waits for an output line and for a RESTCONF value to stabilize, then stops it\n" +
			"and confirms it exited. Any failure stops the process before returning.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd.Context(), a, commandFromArgs(args, opts.exec), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.remote, "remote", false, "start the command on the SSH target")
	cmd.Flags().BoolVar(&opts.exec, "exec", false, "run the arguments as argv instead of a shell line")
	cmd.Flags().StringVar(&opts.waitOutput, "wait-output", "", "wait for an output line containing this text")
	cmd.Flags().StringVar(&opts.stablePath, "stable-path", "", "RESTCONF path to sample until stable")
	cmd.Flags().StringVar(&opts.stableQuery, "stable-query", ".", "jq expression selecting the sampled value")
	cmd.Flags().StringSliceVar(&opts.volatile, "volatile", nil, "object keys ignored when comparing samples")
	cmd.Flags().DurationVar(&opts.hold, "hold", 0, "keep the process running this long before stopping it")
	cmd.Flags().BoolVar(&opts.force, "force", false, "stop with SIGKILL instead of SIGTERM")

	return cmd
}

func runStep(ctx context.Context, a *app, c procsup.Command, opts stepOptions) (err error) {
	stop := a.cfg.StopOptions()
	stop.Graceful = !opts.force
	group := a.sup.NewGroup(stop)
	defer func() {
		// Cleanup must run even when ctx was canceled by a signal.
		if serr := group.StopAll(context.WithoutCancel(ctx)); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	var (
		h    procsup.Handle
		host = "localhost"
	)
	if opts.remote {
		runner := a.remote()
		rp, rerr := runner.Start(ctx, c)
		if rerr != nil {
			return rerr
		}
		group.Adopt(rp)
		h, host = rp, runner.Target().Addr()
	} else {
		p, serr := group.Start(ctx, c)
		if serr != nil {
			return serr
		}
		h = p
	}

	if err := a.sup.VerifyStarted(ctx, h, a.cfg.StartPolicy()); err != nil {
		return err
	}

	view := stepView{ID: h.ID(), Command: c.String(), Host: host}

	if opts.waitOutput != "" {
		line, werr := a.sup.WaitForOutput(ctx, h, opts.waitOutput, a.cfg.RetryPolicy())
		if werr != nil {
			return werr
		}
		view.Matched = line
	}

	if opts.stablePath != "" {
		client, cerr := a.restconf()
		if cerr != nil {
			return cerr
		}
		p, perr := probe.JSONValue(client, opts.stablePath, opts.stableQuery, opts.volatile...)
		if perr != nil {
			return perr
		}
		v, serr := converge.WaitForStable(ctx, a.engine, config.StabilityPolicy[string](a.cfg), p)
		if serr != nil {
			return serr
		}
		view.Stable = v
	}

	if opts.hold > 0 {
		a.logger.Info("holding process", slog.String("id", h.ID()), slog.Duration("hold", opts.hold))
		if err := a.engine.Clock().Sleep(ctx, opts.hold); err != nil {
			return err
		}
	}

	if err := group.StopAll(ctx); err != nil {
		return err
	}
	view.Stopped = true
	view.OutputEnd = procsup.Tail(h.Output(), outputTailLines)

	return a.render(view, view.table)
}
