package mirror

import "github.com/BadgerOps/mirrorrank/internal/catalog"

// FilterOptions selects which mirrors are eligible for probing.
type FilterOptions struct {
	Protocol  catalog.Protocol
	IPVersion catalog.IPVersion
}

// Predicate reports whether a record is eligible.
type Predicate func(catalog.MirrorRecord) bool

// Predicates returns the eligibility predicates for opts. They are
// independent of each other and may be applied in any order.
func Predicates(opts FilterOptions) []Predicate {
	want := catalog.ParseProtocol(string(opts.Protocol))
	return []Predicate{
		func(m catalog.MirrorRecord) bool { return catalog.ParseProtocol(string(m.Protocol)) == want },
		func(m catalog.MirrorRecord) bool { return m.SupportsIP(opts.IPVersion) },
		func(m catalog.MirrorRecord) bool { return m.Active },
		func(m catalog.MirrorRecord) bool { return m.Score.Present() },
	}
}

// Filter returns the records that satisfy every predicate, in catalog order.
func Filter(records []catalog.MirrorRecord, opts FilterOptions) []Candidate {
	return FilterWith(records, Predicates(opts))
}

// FilterWith applies an explicit predicate set.
func FilterWith(records []catalog.MirrorRecord, preds []Predicate) []Candidate {
	candidates := make([]Candidate, 0, len(records))
	for i, rec := range records {
		if !matchAll(rec, preds) {
			continue
		}
		score, ok := rec.Score.Value()
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Record:      rec,
			Index:       i,
			Reliability: score,
		})
	}
	return candidates
}

func matchAll(rec catalog.MirrorRecord, preds []Predicate) bool {
	for _, p := range preds {
		if !p(rec) {
			return false
		}
	}
	return true
}
