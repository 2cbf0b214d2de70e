package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gocsit/internal/gobgp"
)

func bgpCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bgp",
		Short: "Inspect and drive the GoBGP test speaker",
	}

	cmd.AddCommand(bgpPeersCmd(a))
	cmd.AddCommand(bgpFlapCmd(a))

	return cmd
}

func bgpPeersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List GoBGP neighbors with their session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.gobgp()
			if err != nil {
				return err
			}
			defer a.closeGoBGPClient(c)

			peers, err := c.Peers(cmd.Context())
			if err != nil {
				return err
			}
			views := make([]peerView, 0, len(peers))
			for _, p := range peers {
				v := peerView{
					Address:   p.Address,
					PeerASN:   p.PeerASN,
					State:     p.State,
					AdminDown: p.AdminDown,
					Received:  make(map[string]uint64, len(p.Received)),
				}
				for f, n := range p.Received {
					v.Received[string(f)] = n
				}
				views = append(views, v)
			}
			return a.render(views, peersTable(views))
		},
	}
}

func bgpFlapCmd(a *app) *cobra.Command {
	var (
		peer     string
		cycles   int
		holdDown time.Duration
		step     string
	)

	cmd := &cobra.Command{
		Use:   "flap",
		Short: "Take a GoBGP session down and back up, confirming each transition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.gobgp()
			if err != nil {
				return err
			}
			defer a.closeGoBGPClient(c)

			done, err := gobgp.Flap(cmd.Context(), a.engine, a.logger, c, peer, gobgp.FlapOptions{
				Cycles:   cycles,
				HoldDown: holdDown,
				Policy:   a.cfg.RetryPolicy(),
				Step:     step,
			})
			views := make([]flapView, 0, len(done))
			for _, cy := range done {
				views = append(views, flapView{
					Cycle: cy.Cycle,
					Down:  cy.Down.Round(time.Millisecond).String(),
					Up:    cy.Up.Round(time.Millisecond).String(),
				})
			}
			if rerr := a.render(views, flapsTable(views)); rerr != nil {
				return rerr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "neighbor address")
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of down/up cycles")
	cmd.Flags().DurationVar(&holdDown, "hold-down", 0, "time the session stays disabled")
	cmd.Flags().StringVar(&step, "step", "flap", "test step name sent in the shutdown communication")
	_ = cmd.MarkFlagRequired("peer")

	return cmd
}
