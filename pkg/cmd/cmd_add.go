package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/blzsearch/blz/pkg/engine"
)

func newAddCmd(flags *cmdFlags) *cobra.Command {
	var (
		language bool
		tags     []string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "add <alias> <url>",
		Short: "Fetch, parse and index a new documentation source",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			if !c.Flags().Changed("language") {
				language = flags.LanguageFilter
			}

			src, err := eng.Add(c.Context(), args[0], args[1], engine.AddOptions{
				Language: language,
				Tags:     tags,
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}

			return writeJSON(os.Stdout, flags, src)
		},
	}

	cmd.Flags().BoolVar(&language, "language", false, "drop non-English prose blocks (default: --language-filter)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "attach a tag (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be indexed without writing it")

	return cmd
}
