package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blzsearch/blz/pkg/query"
)

func newGetCmd(flags *cmdFlags) *cobra.Command {
	var (
		context  string
		maxLines int
	)

	cmd := &cobra.Command{
		Use:   "get <target...>",
		Short: "Retrieve exact citation content by alias, span or anchor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			targets := make([]query.Target, 0, len(args))

			for _, a := range args {
				t, ok := query.ParseTarget(a)
				if !ok {
					return fmt.Errorf("invalid citation target: %q", a)
				}

				targets = append(targets, t)
			}

			results, err := eng.Get(c.Context(), targets, query.RetrieveOptions{
				Context:  context,
				MaxLines: maxLines,
			})
			if err != nil {
				return err
			}

			return writeJSON(os.Stdout, flags, results)
		},
	}

	cmd.Flags().StringVar(&context, "context", "none", "context expansion: none, all, or a line count")
	cmd.Flags().IntVar(&maxLines, "max-lines", 0, "truncate each result to this many lines (0 = unlimited)")

	return cmd
}
