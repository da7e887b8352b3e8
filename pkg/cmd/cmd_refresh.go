package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func newRefreshCmd(flags *cmdFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh [alias...]",
		Short: "Re-fetch, re-parse and re-index sources, in parallel",
		Args:  cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			results, err := eng.Refresh(c.Context(), args)
			if err != nil {
				return err
			}

			return writeJSON(os.Stdout, flags, results)
		},
	}

	return cmd
}
