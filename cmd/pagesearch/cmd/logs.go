package cmd

import (
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/logging"
	"github.com/Aman-CERP/pagesearch/internal/ui"
)

func newLogsCmd(st *state) *cobra.Command {
	var (
		lines   int
		follow  bool
		level   string
		pattern string
		file    string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log entries",
		Long: `Print the last entries of the pagesearch log, optionally filtered by
level or a regular expression, and optionally follow new entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if level != "" && !logging.ValidLevel(level) {
				return perrors.ValidationError("invalid --level "+level+" (want debug, info, warn or error)", nil)
			}
			cfg := logging.ViewerConfig{
				Level:   level,
				NoColor: noColor || !ui.IsTTY(cmd.OutOrStdout()) || ui.DetectNoColor(),
			}
			if pattern != "" {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return perrors.ValidationError("invalid --grep pattern", err)
				}
				cfg.Pattern = re
			}

			path, err := logging.FindLogFile(st.app.Config.DataDir, file)
			if err != nil {
				return perrors.New(perrors.ErrCodeFileNotFound, err.Error(), nil)
			}

			viewer := logging.NewViewer(cfg, cmd.OutOrStdout())
			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return viewer.Follow(ctx, path)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level: debug, info, warn or error")
	cmd.Flags().StringVar(&pattern, "grep", "", "Only entries matching this regular expression")
	cmd.Flags().StringVar(&file, "file", "", "Read this log file instead of the data dir's")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")
	return cmd
}
