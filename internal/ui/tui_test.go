package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewTUIRenderer_RequiresTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestIndexingModel_View(t *testing.T) {
	// Given: a model with embedding progress
	tracker := NewProgressTracker()
	m := newIndexingModel(tracker, "pagesearch")
	m.styles = NoColorStyles()
	tracker.Apply(ProgressEvent{Stage: StageEmbedding, Current: 3, Total: 6, CurrentFile: "/docs/report.pdf"})

	// When: rendered
	view := m.View()

	// Then: the header, counter and file name show up
	assert.Contains(t, view, "pagesearch")
	assert.Contains(t, view, "3/6")
	assert.Contains(t, view, "report.pdf")
	assert.Contains(t, view, "Extracting")
}

func TestIndexingModel_ErrorShown(t *testing.T) {
	m := newIndexingModel(NewProgressTracker(), "pagesearch")
	m.styles = NoColorStyles()

	m.Update(errorMsg(ErrorEvent{File: "/docs/bad.pdf", Err: errors.New("broken")}))

	assert.Contains(t, m.View(), "bad.pdf: broken")
}

func TestIndexingModel_CompleteQuits(t *testing.T) {
	m := newIndexingModel(NewProgressTracker(), "pagesearch")
	m.styles = NoColorStyles()

	_, cmd := m.Update(completeMsg(CompletionStats{Indexed: 1200, Pages: 3, Chunks: 9, Duration: time.Second}))

	assert.NotNil(t, cmd)
	assert.True(t, m.complete)
	assert.Contains(t, m.View(), "1,200 files indexed")
}

func TestIndexingModel_KeyQuit(t *testing.T) {
	m := newIndexingModel(NewProgressTracker(), "pagesearch")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.True(t, m.quitting)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestIndexingModel_WindowResize(t *testing.T) {
	m := newIndexingModel(NewProgressTracker(), "pagesearch")

	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 20, m.progressBar.Width)

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 10})
	assert.Equal(t, 100, m.progressBar.Width)
}
