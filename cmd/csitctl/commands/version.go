package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	appversion "github.com/dantte-lp/gocsit/internal/version"
)

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print csitctl build information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			info := appversion.Get("csitctl")
			return a.render(info, func(w io.Writer) {
				fmt.Fprintln(w, appversion.Full("csitctl"))
			})
		},
	}
}
