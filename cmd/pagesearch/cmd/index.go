package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/app"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/output"
	"github.com/Aman-CERP/pagesearch/internal/ui"
)

func newIndexCmd(st *state) *cobra.Command {
	var (
		force bool
		noTUI bool
		watch []string
		ocr   string
	)

	cmd := &cobra.Command{
		Use:   "index [files or directories...]",
		Short: "Index PDF and text files for searching",
		Long: `Extract the text of each file page by page, split it into overlapping
passages, embed them and store them for search.

Directories are walked for .pdf, .txt and .md files. Files already indexed
are skipped unless --force is given, which replaces them. One failing file
never stops the run; the exit code is non-zero only when every file failed.

With --watch DIR the command keeps running and indexes files as they are
created or changed in DIR, and removes deleted ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(watch) == 0 {
				return perrors.ValidationError("index needs at least one file or directory", nil).
					WithSuggestion("Run 'pagesearch index <file.pdf>' or 'pagesearch index --watch <dir>'")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := st.app
			if err := a.Lock(); err != nil {
				return err
			}

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(noTUI || len(watch) > 0),
				ui.WithNoColor(ui.DetectNoColor()),
				ui.WithTitle("pagesearch index")))
			ix, err := a.Indexer(ctx, app.IndexOptions{Force: force, OCR: ocr, Renderer: renderer})
			if err != nil {
				return err
			}

			paths, err := index.Expand(append(args, watch...))
			if err != nil {
				return err
			}

			report, err := runIndex(ctx, a, ix, renderer, paths)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Report(report)

			if len(watch) == 0 {
				if report.AllFailed() {
					return perrors.New(perrors.ErrCodeIndexFailed, "no file could be indexed", nil).
						WithSuggestion("See the messages above, or 'pagesearch logs' for details")
				}
				return nil
			}

			out.Status("", "Watching for changes (Ctrl-C to stop)")
			coordinator := index.NewCoordinator(index.CoordinatorConfig{
				Indexer: ix,
				OnReport: func(r *index.Report) {
					if len(r.Files) > 0 {
						out.Report(r)
					}
				},
			})
			return coordinator.Watch(ctx, watch...)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-index files that are already indexed")
	cmd.Flags().StringArrayVar(&watch, "watch", nil, "Keep indexing changes under this directory (repeatable)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the interactive progress display")
	cmd.Flags().StringVar(&ocr, "ocr", "", "OCR for scanned pages: auto, always or never (default from config)")
	return cmd
}

// runIndex drives the renderer around one indexing run.
func runIndex(ctx context.Context, a *app.App, ix *index.Indexer, renderer ui.Renderer, paths []string) (*index.Report, error) {
	if err := renderer.Start(ctx); err != nil {
		return nil, err
	}
	report := ix.IndexFiles(ctx, paths)

	stats := ui.CompletionStats{
		Files:    len(report.Files),
		Indexed:  report.Indexed,
		Skipped:  report.Skipped + report.Missing,
		Failed:   report.Failed,
		Pages:    report.Pages,
		Chunks:   report.Chunks,
		Duration: report.Duration,
		Embedder: ui.EmbedderInfo{
			Backend: a.Config.Embeddings.Provider,
		},
	}
	if emb, err := a.Embedder(ctx); err == nil {
		stats.Embedder.Model = emb.ModelName()
		stats.Embedder.Dimensions = emb.Dimensions()
	}
	renderer.Complete(stats)
	return report, renderer.Stop()
}
