package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd(flags *cmdFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <alias>",
		Short: "Archive a source and purge it from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			path, err := eng.Remove(c.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(c.OutOrStdout(), path)

			return nil
		},
	}

	return cmd
}
