package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/ui"
)

func newStatusCmd(st *state) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Long:  `Show document, page and passage counts, index size on disk and the embedder in use.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := st.app.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderer := ui.NewStatusRenderer(out, !ui.IsTTY(out) || ui.DetectNoColor())
			if jsonOutput {
				return renderer.RenderJSON(*info)
			}
			return renderer.Render(*info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
