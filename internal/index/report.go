package index

import "time"

// Status is the outcome of indexing one file.
type Status int

const (
	// StatusIndexed means the document was written to both stores.
	StatusIndexed Status = iota
	// StatusSkipped means the document was already indexed.
	StatusSkipped
	// StatusMissing means the path does not exist.
	StatusMissing
	// StatusFailed means indexing failed and was rolled back.
	StatusFailed
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusIndexed:
		return "indexed"
	case StatusSkipped:
		return "skipped"
	case StatusMissing:
		return "missing"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileResult is the outcome for one input path.
type FileResult struct {
	Path     string
	Status   Status
	Pages    int
	Chunks   int
	Err      error
	Duration time.Duration
}

// Report summarizes an index run.
type Report struct {
	RunID    string
	Files    []FileResult
	Indexed  int
	Skipped  int
	Missing  int
	Failed   int
	Pages    int
	Chunks   int
	Duration time.Duration
}

func (r *Report) add(res FileResult) {
	r.Files = append(r.Files, res)
	switch res.Status {
	case StatusIndexed:
		r.Indexed++
		r.Pages += res.Pages
		r.Chunks += res.Chunks
	case StatusSkipped:
		r.Skipped++
	case StatusMissing:
		r.Missing++
	case StatusFailed:
		r.Failed++
	}
}

// AllFailed reports whether the run had inputs and none of them was
// indexed or skipped.
func (r *Report) AllFailed() bool {
	return len(r.Files) > 0 && r.Indexed == 0 && r.Skipped == 0
}
