// Package cmd provides the CLI commands for pagesearch.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/app"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/pkg/version"
)

// skipApp marks commands that run without configuration or a data dir.
const skipApp = "pagesearch/skip-app"

// state is shared by the commands of one invocation. The App is built in
// PersistentPreRunE, after flags are parsed.
type state struct {
	opts       app.Options
	app        *app.App
	jsonErrors bool
}

func (s *state) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// NewRootCmd creates the root command for the pagesearch CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *state) {
	st := &state{}

	cmd := &cobra.Command{
		Use:   "pagesearch",
		Short: "Semantic search over PDF documents",
		Long: `pagesearch indexes the text of PDF and plain-text documents page by page
and finds the passages closest in meaning to a natural-language query.

  pagesearch index ~/papers
  pagesearch search "how is the warranty transferred"

Everything runs locally; embeddings come from Ollama or, offline, from a
static hash embedder.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] != "" {
				return nil
			}
			a, err := app.New(st.opts)
			if err != nil {
				return err
			}
			st.app = a
			slog.SetDefault(a.Logger)
			slog.Debug("command started", slog.String("command", cmd.CommandPath()), slog.String("version", version.Version))
			return nil
		},
	}
	cmd.SetVersionTemplate("pagesearch {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&st.opts.DataDir, "data-dir", "", "Directory holding the index (default $XDG_DATA_HOME/pagesearch)")
	cmd.PersistentFlags().StringVar(&st.opts.ConfigPath, "config", "", "Config file to load on top of the user config")
	cmd.PersistentFlags().BoolVar(&st.opts.Debug, "debug", false, "Log at debug level, also to stderr")
	cmd.PersistentFlags().BoolVar(&st.jsonErrors, "json-errors", false, "Report a failure as one JSON object on stderr")

	cmd.AddCommand(newIndexCmd(st))
	cmd.AddCommand(newSearchCmd(st))
	cmd.AddCommand(newStatusCmd(st))
	cmd.AddCommand(newCheckCmd(st))
	cmd.AddCommand(newServeCmd(st))
	cmd.AddCommand(newLogsCmd(st))
	cmd.AddCommand(newConfigCmd(st))
	cmd.AddCommand(newVersionCmd())

	return cmd, st
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	return Main(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Main runs one invocation like Run and reports a failure on stderr, as
// JSON when --json-errors is set. It returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, st := newRootCmd()
	err := run(ctx, cmd, st, args, stdout, stderr)
	if err == nil {
		return 0
	}
	writeError(stderr, err, st.jsonErrors)
	return 1
}

// Run executes one CLI invocation and releases everything it opened, even
// when the command fails.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd, st := newRootCmd()
	return run(ctx, cmd, st, args, stdout, stderr)
}

func run(ctx context.Context, cmd *cobra.Command, st *state, args []string, stdout, stderr io.Writer) error {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := st.close(); err == nil {
		err = cerr
	}
	return err
}

func writeError(w io.Writer, err error, asJSON bool) {
	if asJSON {
		data, jerr := perrors.FormatJSON(err)
		if jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
		slog.Debug("failed to encode error as JSON", slog.String("error", jerr.Error()))
	}
	_, _ = fmt.Fprint(w, perrors.FormatForCLI(err))
}
