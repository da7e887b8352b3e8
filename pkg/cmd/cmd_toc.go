package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/blzsearch/blz/pkg/engine"
)

func newTOCCmd(flags *cmdFlags) *cobra.Command {
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "toc <alias>",
		Short: "Print a source's table-of-contents tree",
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

			toc, err := eng.TOC(args[0], engine.TOCOptions{MaxDepth: maxDepth})
			if err != nil {
				return err
			}

			return writeJSON(os.Stdout, flags, toc)
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "truncate the tree to this many levels below the root (0 = unlimited)")

	return cmd
}
