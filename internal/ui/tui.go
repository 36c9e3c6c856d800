package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)
	r.send(progressUpdateMsg(event))
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(errorMsg(event))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program != nil {
		program.Send(msg)
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program == nil {
		return nil
	}

	program.Quit()
	// An unresponsive program must not hang the process on Ctrl+C.
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// Message types for bubbletea
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// indexingModel is the bubbletea model for indexing progress.
type indexingModel struct {
	tracker     *ProgressTracker
	title       string
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	lastErr     *ErrorEvent
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
}

func newIndexingModel(tracker *ProgressTracker, title string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	p := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		title:       title,
		width:       80,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-20, 20)

	case errorMsg:
		event := ErrorEvent(msg)
		m.lastErr = &event

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	stats := m.tracker.Stats()
	sections := []string{
		m.styles.Header.Render(m.title),
		m.renderStages(stats.Stage),
		m.progressBar.ViewAs(stats.Progress) + " " +
			m.styles.Label.Render(fmt.Sprintf("%d/%d", stats.Current, stats.Total)),
	}

	if stats.CurrentFile != "" {
		sections = append(sections, m.styles.Label.Render("File: ")+filepath.Base(stats.CurrentFile))
	}
	if stats.ETA > 0 {
		sections = append(sections, m.styles.Label.Render("ETA:  ")+stats.ETA.Round(time.Second).String())
	}
	if m.lastErr != nil {
		style := m.styles.Error
		if m.lastErr.IsWarn {
			style = m.styles.Warning
		}
		sections = append(sections, style.Render(fmt.Sprintf("%s: %v", filepath.Base(m.lastErr.File), m.lastErr.Err)))
	}
	if stats.ErrorCount > 0 || stats.WarnCount > 0 {
		sections = append(sections, m.styles.Dim.Render(
			fmt.Sprintf("%d errors, %d warnings", stats.ErrorCount, stats.WarnCount)))
	}

	return m.styles.Panel.Width(max(m.width-4, 40)).Render(strings.Join(sections, "\n")) + "\n"
}

// renderStages renders the pipeline stage indicators.
func (m *indexingModel) renderStages(current Stage) string {
	stages := []Stage{StageExtracting, StageEmbedding, StageStoring}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexingModel) renderComplete() string {
	s := m.stats
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s files indexed, %s pages, %s chunks in %s\n",
		m.styles.Success.Render("✓"),
		humanize.Comma(int64(s.Indexed)),
		humanize.Comma(int64(s.Pages)),
		humanize.Comma(int64(s.Chunks)),
		s.Duration.Round(100*time.Millisecond))
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "  %s\n", m.styles.Warning.Render(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "  %s\n", m.styles.Error.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Embedder.Backend != "" {
		fmt.Fprintf(&b, "  %s %s (%s, %d dims)\n", m.styles.Label.Render("Embedder:"),
			s.Embedder.Backend, s.Embedder.Model, s.Embedder.Dimensions)
	}
	return b.String()
}
