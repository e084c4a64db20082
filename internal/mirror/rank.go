package mirror

import (
	"context"
	"sort"
)

const (
	// DefaultThreshold is the fitness a mirror must exceed to be listed.
	DefaultThreshold = 0.5

	// DefaultPrefix is the pacman mirrorlist directive.
	DefaultPrefix = "Server = "

	// DefaultPathTemplate is appended to each mirror base URL.
	DefaultPathTemplate = "$repo/os/$arch"
)

// RankOptions controls acceptance and rendering of scored mirrors.
type RankOptions struct {
	Threshold    float64
	Prefix       string
	PathTemplate string
	Limit        int // keep at most Limit mirrors when > 0
}

// DefaultRankOptions returns the pacman mirrorlist defaults.
func DefaultRankOptions() RankOptions {
	return RankOptions{
		Threshold:    DefaultThreshold,
		Prefix:       DefaultPrefix,
		PathTemplate: DefaultPathTemplate,
	}
}

// Rank drops mirrors at or below the threshold, orders the rest by
// descending fitness and renders them. Equal fitness keeps catalog order.
// The input slice is not modified.
func Rank(scored []Scored, opts RankOptions) []RankedMirror {
	accepted := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.Fitness > opts.Threshold {
			accepted = append(accepted, s)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].Fitness != accepted[j].Fitness {
			return accepted[i].Fitness > accepted[j].Fitness
		}
		return accepted[i].Candidate.Index < accepted[j].Candidate.Index
	})

	if opts.Limit > 0 && len(accepted) > opts.Limit {
		accepted = accepted[:opts.Limit]
	}

	ranked := make([]RankedMirror, 0, len(accepted))
	for _, s := range accepted {
		base := s.Candidate.Record.BaseURL()
		ranked = append(ranked, RankedMirror{
			Line:        opts.Prefix + base + opts.PathTemplate,
			URL:         base,
			Country:     s.Candidate.Record.Country,
			Reliability: s.Candidate.Reliability,
			Latency:     s.Latency,
			Fitness:     s.Fitness,
		})
	}
	return ranked
}

// Pipeline runs probe, score and rank over an already filtered candidate set.
func Pipeline(ctx context.Context, prober Prober, candidates []Candidate, maxWorkers int, opts RankOptions) ([]ProbeResult, []RankedMirror) {
	results := ProbeAll(ctx, prober, candidates, maxWorkers)
	return results, Rank(Score(results), opts)
}
