package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/output"
	"github.com/Aman-CERP/pagesearch/internal/search"
)

func newSearchCmd(st *state) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Find the passages closest to a query",
		Long: `Embed the query and print the closest indexed passages, each with its
distance, document path and page number.

Multiple arguments are joined into one query, so quoting is optional.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = st.app.Config.Search.Limit
			}
			query := strings.Join(args, " ")

			ctx := cmd.Context()
			engine, err := st.app.Engine(ctx)
			if err != nil {
				return err
			}
			results, err := engine.Search(ctx, query, limit)
			if err != nil {
				return err
			}
			hits, err := results.Collect(ctx)
			if err != nil {
				return err
			}
			return output.New(cmd.OutOrStdout()).Results(query, hits, f)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, "Number of results (default from config)")
	cmd.Flags().StringVar(&format, "format", string(output.FormatText), "Output format: text or json")
	return cmd
}
