package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Apply(t *testing.T) {
	// Given: a fresh tracker
	p := NewProgressTracker()
	assert.Equal(t, StageExtracting, p.Stats().Stage)

	// When: an embedding event arrives
	p.Apply(ProgressEvent{Stage: StageEmbedding, Current: 2, Total: 8, CurrentFile: "/a.pdf"})

	// Then: the snapshot reflects it
	stats := p.Stats()
	assert.Equal(t, StageEmbedding, stats.Stage)
	assert.Equal(t, 2, stats.Current)
	assert.Equal(t, 8, stats.Total)
	assert.InDelta(t, 0.25, stats.Progress, 1e-9)
	assert.Equal(t, "/a.pdf", stats.CurrentFile)
}

func TestProgressTracker_FileIsSticky(t *testing.T) {
	p := NewProgressTracker()
	p.Apply(ProgressEvent{Stage: StageEmbedding, Current: 1, Total: 4, CurrentFile: "/a.pdf"})
	p.Apply(ProgressEvent{Stage: StageEmbedding, Current: 2, Total: 4})

	assert.Equal(t, "/a.pdf", p.Stats().CurrentFile)
}

func TestProgressTracker_ProgressClamped(t *testing.T) {
	p := NewProgressTracker()

	p.Apply(ProgressEvent{Stage: StageEmbedding, Current: 10, Total: 4})
	assert.Equal(t, 1.0, p.Stats().Progress)
	assert.Zero(t, p.Stats().ETA)

	p.Apply(ProgressEvent{Stage: StageStoring})
	assert.Zero(t, p.Stats().Progress)
}

func TestProgressTracker_ETA(t *testing.T) {
	p := NewProgressTracker()
	p.Apply(ProgressEvent{Stage: StageEmbedding, Current: 0, Total: 10})
	time.Sleep(20 * time.Millisecond)
	p.Apply(ProgressEvent{Stage: StageEmbedding, Current: 5, Total: 10})

	assert.Greater(t, p.Stats().ETA, time.Duration(0))
}

func TestProgressTracker_Errors(t *testing.T) {
	p := NewProgressTracker()
	p.AddError(ErrorEvent{File: "a", Err: errors.New("x")})
	p.AddError(ErrorEvent{File: "b", Err: errors.New("y"), IsWarn: true})

	stats := p.Stats()
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarnCount)
	assert.Len(t, p.Errors(), 1)
}
