package mirror

import "math"

// decayScale is the denominator of both exponents. Latency is in seconds;
// changing the unit without changing this constant rescales the ranking.
const decayScale = 100.0

// Fitness combines a reliability score and a latency in seconds into a value
// in (0, 1]. Both inputs carry equal weight and the same decay, so lower is
// better for each.
func Fitness(reliability, latencySeconds float64) float64 {
	return 0.5*math.Exp(-(latencySeconds*latencySeconds)/decayScale) +
		0.5*math.Exp(-(reliability*reliability)/decayScale)
}

// Score computes fitness for every successful probe. Failed probes are
// dropped and never scored.
func Score(results []ProbeResult) []Scored {
	scored := make([]Scored, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			continue
		}
		scored = append(scored, Scored{
			Candidate: r.Candidate,
			Latency:   r.Latency,
			Fitness:   Fitness(r.Candidate.Reliability, r.Latency.Seconds()),
		})
	}
	return scored
}
