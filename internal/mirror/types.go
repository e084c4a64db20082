package mirror

import (
	"time"

	"github.com/BadgerOps/mirrorrank/internal/catalog"
)

// Candidate is a catalog record that passed every eligibility predicate.
type Candidate struct {
	Record      catalog.MirrorRecord
	Index       int     // position in the catalog
	Reliability float64 // unwrapped catalog score
}

// ProbeResult holds the outcome of probing one candidate. Exactly one of
// Latency or Err is meaningful: Err is nil on success.
type ProbeResult struct {
	Candidate Candidate
	Latency   time.Duration
	Err       error
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool {
	return r.Err == nil
}

// Scored pairs a successfully probed candidate with its fitness.
type Scored struct {
	Candidate Candidate
	Latency   time.Duration
	Fitness   float64
}

// RankedMirror is one line of the generated mirror list.
type RankedMirror struct {
	Line        string        `json:"line"`
	URL         string        `json:"url"`
	Country     string        `json:"country"`
	Reliability float64       `json:"reliability"`
	Latency     time.Duration `json:"latency_ns"`
	Fitness     float64       `json:"fitness"`
}
