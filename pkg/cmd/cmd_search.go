package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blzsearch/blz/pkg/engine"
	"github.com/blzsearch/blz/pkg/query"
)

func newSearchCmd(flags *cmdFlags) *cobra.Command {
	var (
		aliases      []string
		levelsExpr   string
		limit        int
		offset       int
		allowPartial bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed sources with heading-scoped full-text ranking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			var levels []int
			if levelsExpr != "" {
				levels, err = query.ParseLevels(levelsExpr)
				if err != nil {
					return err
				}
			}

			hits, meta, err := eng.Search(c.Context(), strings.Join(args, " "), engine.SearchOptions{
				Aliases:      aliases,
				Levels:       levels,
				Limit:        limit,
				Offset:       offset,
				AllowPartial: allowPartial,
			})
			if err != nil {
				return err
			}

			return writeResults(os.Stdout, flags, hits, meta)
		},
	}

	cmd.Flags().StringSliceVar(&aliases, "alias", nil, "restrict search to these sources (repeatable)")
	cmd.Flags().StringVar(&levelsExpr, "levels", "", "restrict to heading levels, e.g. \"1-2\" or \"1,3\"")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (defaults to --default-limit)")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset for pagination")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "return partial results if some sources fail")

	return cmd
}
