package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/blzsearch/blz/pkg/blz"
	"github.com/blzsearch/blz/pkg/engine"
)

func newListCmd(flags *cmdFlags) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every known source and its metadata",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			sources, statuses, err := eng.List(c.Context(), engine.ListOptions{Probe: status})
			if err != nil {
				return err
			}

			if !status {
				return writeJSON(os.Stdout, flags, sources)
			}

			return writeJSON(os.Stdout, flags, struct {
				Sources  []blz.Source          `json:"sources"`
				Statuses []engine.SourceStatus `json:"statuses"`
			}{sources, statuses})
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "probe each source's URL for reachability and upstream changes")

	return cmd
}
