package ui

import (
	"sync"
	"time"
)

// ProgressTracker manages progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentFile string
	message     string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	lastETA time.Duration // previous ETA for exponential smoothing
}

// ProgressStats contains a snapshot of current progress.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	Elapsed     time.Duration
	CurrentFile string
	Message     string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageExtracting,
		startTime:  now,
		stageStart: now,
	}
}

// Apply records a progress event, resetting the stage clock when the stage
// or the total changes.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage || event.Total != p.total {
		p.stage = event.Stage
		p.total = event.Total
		p.stageStart = time.Now()
		p.lastETA = 0
	}
	p.current = event.Current
	if event.CurrentFile != "" {
		p.currentFile = event.CurrentFile
	}
	p.message = event.Message
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Stats returns current statistics snapshot.
// Uses write lock because calculateETA modifies lastETA for smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.fraction(),
		ETA:         p.calculateETA(),
		Elapsed:     time.Since(p.startTime),
		CurrentFile: p.currentFile,
		Message:     p.message,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
	}
}

// Errors returns the recorded errors, warnings excluded.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]ErrorEvent(nil), p.errors...)
}

// fraction must be called with the lock held.
func (p *ProgressTracker) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1.0)
}

// etaSmoothingFactor is the weight of the newest ETA sample.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	progress := p.fraction()
	if progress <= 0 || progress >= 1.0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	smoothed := time.Duration(etaSmoothingFactor*float64(raw) + (1-etaSmoothingFactor)*float64(p.lastETA))
	p.lastETA = smoothed
	return smoothed
}
