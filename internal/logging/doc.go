// Package logging configures structured slog output for pagesearch.
//
// Logs are JSON lines written to <data-dir>/logs/pagesearch.log with
// size-based rotation. Stderr output is optional and must stay off while
// the MCP server owns stdio.
package logging
