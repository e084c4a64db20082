package store

import "time"

// Run statuses
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusEmpty   = "empty"  // ran to completion but no mirror was ranked
	StatusFailed  = "failed" // aborted before ranking, e.g. the catalog could not be loaded
)

// RankRun records one rank execution. Only counts are kept; per-mirror
// latencies are never stored.
type RankRun struct {
	ID             int64
	CatalogSource  string
	StartTime      time.Time
	EndTime        time.Time
	CatalogMirrors int
	Candidates     int
	ProbedOK       int
	ProbeFailed    int
	Ranked         int
	OutputPath     string
	Status         string // "running", "success", "empty", "failed"
	ErrorMessage   string
}

// Duration returns how long the run took, or zero while it is still running.
func (r RankRun) Duration() time.Duration {
	if r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
