package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gocsit/internal/config"
	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/gobgp"
	"github.com/dantte-lp/gocsit/internal/probe"
)

// errNoSource is returned when a wait names no observable.
var errNoSource = errors.New("no observable selected: set --path, --rib or --peer")

func waitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a controller or BGP observable to converge",
	}

	cmd.AddCommand(waitValueCmd(a))
	cmd.AddCommand(waitStableCmd(a))
	cmd.AddCommand(waitStatusCmd(a))
	cmd.AddCommand(waitBGPStateCmd(a))

	return cmd
}

// intSource selects an integer observable from flags.
type intSource struct {
	path    string
	query   string
	pattern string
	rib     string
	peer    string
	family  string
}

func (s *intSource) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.path, "path", "", "RESTCONF path to sample")
	cmd.Flags().StringVar(&s.query, "query", ".", "jq expression selecting an integer (arrays and objects yield their length)")
	cmd.Flags().StringVar(&s.pattern, "pattern", "", "count regexp matches in the raw body instead of running --query")
	cmd.Flags().StringVar(&s.rib, "rib", "", "sample the GoBGP global RIB path count of this family")
	cmd.Flags().StringVar(&s.peer, "peer", "", "sample prefixes received from this GoBGP neighbor")
	cmd.Flags().StringVar(&s.family, "family", string(gobgp.FamilyIPv4Unicast), "address family for --peer")
	cmd.MarkFlagsMutuallyExclusive("path", "rib", "peer")
}

// probe builds the selected probe. release frees any client it opened.
func (s *intSource) probe(a *app) (p converge.Probe[int], release func(), err error) {
	release = func() {}
	switch {
	case s.path != "":
		c, err := a.restconf()
		if err != nil {
			return p, release, err
		}
		if s.pattern != "" {
			p, err = probe.TextCount(c, s.path, s.pattern)
		} else {
			p, err = probe.JSONInt(c, s.path, s.query)
		}
		return p, release, err

	case s.rib != "" || s.peer != "":
		name := s.rib
		if name == "" {
			name = s.family
		}
		family, err := gobgp.ParseFamily(name)
		if err != nil {
			return p, release, err
		}
		c, err := a.gobgp()
		if err != nil {
			return p, release, err
		}
		release = func() { a.closeGoBGPClient(c) }
		if s.rib != "" {
			return gobgp.RIBPaths(c, family), release, nil
		}
		return gobgp.ReceivedPrefixes(c, s.peer, family), release, nil

	default:
		return p, release, errNoSource
	}
}

// timed runs wait and renders its result as a waitView.
func timed[T any](a *app, name, check string, wait func() (T, error)) error {
	start := a.engine.Clock().Now()
	v, err := wait()
	if err != nil {
		return err
	}
	view := waitView{
		Probe:   name,
		Check:   check,
		Value:   v,
		Elapsed: a.engine.Clock().Now().Sub(start).Round(time.Millisecond).String(),
	}
	return a.render(view, view.table)
}

func waitValueCmd(a *app) *cobra.Command {
	var (
		src     intSource
		equals  int
		atLeast int
		hold    bool
	)

	cmd := &cobra.Command{
		Use:   "value",
		Short: "Retry until an integer observable passes a check",
		Long: "Samples the observable every policy.retry.interval, up to policy.retry.attempts\n" +
			"times, until it equals --equals or reaches --at-least. With --hold the check must\n" +
			"pass on every sample instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, release, err := src.probe(a)
			if err != nil {
				return err
			}
			defer release()

			var v converge.Validator[int] = converge.AlwaysPass[int]()
			switch {
			case cmd.Flags().Changed("equals"):
				v = converge.Equals(equals)
			case cmd.Flags().Changed("at-least"):
				v = converge.AtLeast(atLeast)
			}

			ctx, policy := cmd.Context(), a.cfg.RetryPolicy()
			return timed(a, p.String(), v.String(), func() (int, error) {
				if hold {
					return converge.HoldsFor(ctx, a.engine, policy, v, p)
				}
				return converge.Retry(ctx, a.engine, policy, v, p)
			})
		},
	}

	src.register(cmd)
	cmd.Flags().IntVar(&equals, "equals", 0, "expected value")
	cmd.Flags().IntVar(&atLeast, "at-least", 0, "minimum value")
	cmd.Flags().BoolVar(&hold, "hold", false, "require the check to pass on every sample")
	cmd.MarkFlagsMutuallyExclusive("equals", "at-least")

	return cmd
}

func waitStableCmd(a *app) *cobra.Command {
	var (
		src       intSource
		exclude   int
		floor     int
		snapshot  bool
		volatile  []string
		retryEach bool
	)

	cmd := &cobra.Command{
		Use:   "stable",
		Short: "Sample an observable until it stops changing",
		Long: "Samples every policy.stability.interval until policy.stability.repetitions\n" +
			"consecutive samples are identical, within policy.stability.timeout. --snapshot\n" +
			"compares the JSON selected by --query with --volatile keys removed instead of\n" +
			"an integer.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if snapshot {
				return waitStableSnapshot(ctx, a, src, volatile, retryEach)
			}

			p, release, err := src.probe(a)
			if err != nil {
				return err
			}
			defer release()
			if retryEach {
				p = converge.Retrying(a.engine, a.cfg.RetryPolicy(), p)
			}

			policy := config.StabilityPolicy[int](a.cfg)
			check := fmt.Sprintf("%d identical samples", policy.Repetitions)
			if cmd.Flags().Changed("exclude") {
				policy = policy.Excluding(exclude)
				check += fmt.Sprintf(", != %d", exclude)
			}
			if cmd.Flags().Changed("floor") {
				v := converge.AtLeast(floor)
				policy = policy.WithFloor(v)
				check += ", " + v.String()
			}

			return timed(a, p.String(), check, func() (int, error) {
				return converge.WaitForStable(ctx, a.engine, policy, p)
			})
		},
	}

	src.register(cmd)
	cmd.Flags().IntVar(&exclude, "exclude", 0, "value that never counts as stable (e.g. 0 before any data arrived)")
	cmd.Flags().IntVar(&floor, "floor", 0, "stable value must be at least this")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "compare canonical JSON instead of an integer (RESTCONF only)")
	cmd.Flags().StringSliceVar(&volatile, "volatile", nil, "object keys ignored by --snapshot")
	cmd.Flags().BoolVar(&retryEach, "retry-each", false, "retry each sample within policy.retry before it counts as an error")

	return cmd
}

func waitStableSnapshot(ctx context.Context, a *app, src intSource, volatile []string, retryEach bool) error {
	if src.path == "" {
		return errNoSource
	}
	c, err := a.restconf()
	if err != nil {
		return err
	}
	p, err := probe.JSONValue(c, src.path, src.query, volatile...)
	if err != nil {
		return err
	}
	if retryEach {
		p = converge.Retrying(a.engine, a.cfg.RetryPolicy(), p)
	}
	policy := config.StabilityPolicy[string](a.cfg)
	check := fmt.Sprintf("%d identical snapshots", policy.Repetitions)
	return timed(a, p.String(), check, func() (string, error) {
		return converge.WaitForStable(ctx, a.engine, policy, p)
	})
}

func waitStatusCmd(a *app) *cobra.Command {
	var (
		path   string
		status int
		absent bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Wait until a RESTCONF GET returns a status, or confirm it never does",
		Long: "Retries a GET on --path until it answers --status. With --never the wait\n" +
			"succeeds only if the status is never seen within policy.retry, e.g. to confirm\n" +
			"a peer does not connect.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.restconf()
			if err != nil {
				return err
			}
			p := probe.Expect(c, path, status)
			ctx, policy := cmd.Context(), a.cfg.RetryPolicy()

			if absent {
				return timed(a, p.String(), fmt.Sprintf("never %d", status), func() (int, error) {
					return status, converge.NeverPasses(ctx, a.engine, policy, p)
				})
			}
			return timed(a, p.String(), fmt.Sprintf("status %d", status), func() (int, error) {
				_, err := converge.Pass(ctx, a.engine, policy, p)
				return status, err
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "RESTCONF path")
	cmd.Flags().IntVar(&status, "status", http.StatusOK, "expected HTTP status")
	cmd.Flags().BoolVar(&absent, "never", false, "succeed only if the status is never returned")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

func waitBGPStateCmd(a *app) *cobra.Command {
	var (
		peer  string
		state string
	)

	cmd := &cobra.Command{
		Use:   "bgp-state",
		Short: "Wait until a GoBGP neighbor reaches a session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.gobgp()
			if err != nil {
				return err
			}
			defer a.closeGoBGPClient(c)

			p := gobgp.SessionState(c, peer)
			return timed(a, p.String(), "== "+state, func() (string, error) {
				return converge.UntilEquals(cmd.Context(), a.engine, a.cfg.RetryPolicy(), state, p)
			})
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "neighbor address")
	cmd.Flags().StringVar(&state, "state", "ESTABLISHED", "FSM state to wait for")
	_ = cmd.MarkFlagRequired("peer")

	return cmd
}
