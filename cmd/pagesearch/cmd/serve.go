package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/pagesearch/internal/app"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/mcp"
)

func newServeCmd(st *state) *cobra.Command {
	var watch []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an MCP server over stdio",
		Long: `Serve the index to MCP clients over stdin/stdout with two tools:
search and index_status. Indexed documents are also exposed as resources.

Stdout carries JSON-RPC only; logs go to the log file (and stderr with
--debug). With --watch DIR, changes under DIR are indexed while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, st.app, watch)
		},
	}

	cmd.Flags().StringArrayVar(&watch, "watch", nil, "Index changes under this directory while serving (repeatable)")
	return cmd
}

func runServe(ctx context.Context, a *app.App, watch []string) error {
	engine, err := a.Engine(ctx)
	if err != nil {
		return err
	}
	emb, err := a.Embedder(ctx)
	if err != nil {
		return err
	}
	metadata, err := a.Metadata()
	if err != nil {
		return err
	}
	vectors, err := a.Vectors(emb.Dimensions())
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(engine, metadata, vectors, emb, mcp.Options{
		DataDir:      a.Config.DataDir,
		DefaultLimit: a.Config.Search.Limit,
		Logger:       a.Logger,
	})
	if err != nil {
		return err
	}
	if err := srv.RegisterResources(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The client closing stdin ends the session and the watcher with it.
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx)
	})

	if len(watch) > 0 {
		if err := a.Lock(); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		ix, err := a.Indexer(gctx, app.IndexOptions{})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		coordinator := index.NewCoordinator(index.CoordinatorConfig{
			Indexer: ix,
			OnReport: func(r *index.Report) {
				if err := srv.RegisterResources(gctx); err != nil {
					slog.Warn("failed to refresh resources", slog.String("error", err.Error()))
				}
			},
		})
		g.Go(func() error {
			return coordinator.Watch(gctx, watch...)
		})
	}

	return g.Wait()
}
