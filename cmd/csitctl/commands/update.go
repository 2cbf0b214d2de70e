package commands

import (
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gocsit/internal/updater"
)

// errUpdatesFailed is returned when not every update passed.
var errUpdatesFailed = errors.New("not all updates passed")

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func updateCmd(a *app) *cobra.Command {
	var (
		cfg          updater.Config
		firstPCC     string
		templateFile string
		allowFailure bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Issue LSP updates for every simulated PCC through RESTCONF",
		Long: "Generates one update-lsp request per LSP of each PCC and sends them with a\n" +
			"fixed number of workers. Every outcome is tallied; the command fails unless\n" +
			"every request passed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if firstPCC != "" {
				addr, err := netip.ParseAddr(firstPCC)
				if err != nil {
					return fmt.Errorf("parse --first-pcc: %w", err)
				}
				cfg.FirstPCC = addr
			}
			if templateFile != "" {
				text, err := readFile(templateFile)
				if err != nil {
					return err
				}
				cfg.Template = text
			}
			cfg.Timeout = a.cfg.Scale(cfg.Timeout)

			client, err := a.restconf()
			if err != nil {
				return err
			}
			u, err := updater.New(a.logger, client, cfg, updater.WithObserver(a.collector))
			if err != nil {
				return err
			}

			start := time.Now()
			tally, runErr := u.Run(cmd.Context())

			jobs := cfg.PCCs * cfg.LSPs
			if cfg.Tunnel > 0 {
				jobs = cfg.PCCs
			}
			counts := make(map[string]int)
			for o, n := range tally.Counts() {
				counts[string(o)] = n
			}
			view := tallyView{
				Jobs:      jobs,
				Counts:    counts,
				AllPassed: tally.AllPassed(jobs),
				Elapsed:   time.Since(start).Round(time.Millisecond).String(),
			}
			if err := a.render(view, view.table); err != nil {
				return err
			}

			switch {
			case runErr != nil:
				return runErr
			case !view.AllPassed && !allowFailure:
				return fmt.Errorf("%w: %s", errUpdatesFailed, tally)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.PCCs, "pccs", 1, "number of simulated PCCs")
	f.IntVar(&cfg.LSPs, "lsps", 1, "LSPs per PCC")
	f.IntVar(&cfg.Workers, "workers", 1, "concurrent request workers")
	f.IntVar(&cfg.Tunnel, "tunnel", 0, "update only this tunnel number of each PCC")
	f.StringVar(&firstPCC, "first-pcc", updater.DefaultFirstPCC.String(), "address of the first PCC")
	f.StringVar(&cfg.Hop, "hop", "", "new first hop prefix, e.g. 2.2.2.2/32")
	f.StringVar(&cfg.Destination, "destination", "", "final hop prefix (default 1.1.1.1/32)")
	f.BoolVar(&cfg.Delegate, "delegate", true, "delegate value sent with each update")
	f.StringVar(&cfg.Path, "path", updater.DefaultPath, "RESTCONF operation path")
	f.StringVar(&templateFile, "template", "", "request body template file (text/template with sprig functions)")
	f.StringVar(&cfg.ContentType, "content-type", "", "request content type (default XML)")
	f.DurationVar(&cfg.Timeout, "timeout", 15*time.Minute, "bound on the whole run (scaled by duration_multiplier)")
	f.DurationVar(&cfg.Refresh, "refresh", 0, "progress log interval")
	f.BoolVar(&allowFailure, "allow-failure", false, "exit 0 even when some updates failed")
	_ = cmd.MarkFlagRequired("hop")

	return cmd
}
