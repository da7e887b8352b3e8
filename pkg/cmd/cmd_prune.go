package cmd

import (
	"github.com/spf13/cobra"
)

func newPruneCmd(flags *cmdFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <alias>",
		Short: "Force an archive-retention sweep for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			return eng.Prune(args[0])
		},
	}

	return cmd
}
