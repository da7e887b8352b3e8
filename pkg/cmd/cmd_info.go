package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func newInfoCmd(flags *cmdFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <alias>",
		Short: "Print a source's full metadata",
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

			src, err := eng.Info(args[0])
			if err != nil {
				return err
			}

			return writeJSON(os.Stdout, flags, src)
		},
	}

	return cmd
}
