package mirror

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestFitnessKnownValues(t *testing.T) {
	tests := []struct {
		name        string
		reliability float64
		latency     float64
		want        float64
	}{
		{"origin", 0, 0, 1},
		{"latency only", 0, 10, 0.5 + 0.5*math.Exp(-1)},
		{"reliability only", 10, 0, 0.5 + 0.5*math.Exp(-1)},
		{"both", 10, 0.5, 0.5*math.Exp(-0.0025) + 0.5*math.Exp(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fitness(tt.reliability, tt.latency)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Fitness(%v, %v) = %v, want %v", tt.reliability, tt.latency, got, tt.want)
			}
		})
	}
}

func TestFitnessMonotone(t *testing.T) {
	for _, r := range []float64{0, 0.5, 2, 10} {
		prev := Fitness(r, 0)
		for _, lat := range []float64{0.05, 0.2, 0.5, 1, 3, 7, 15} {
			cur := Fitness(r, lat)
			if !(prev > cur) {
				t.Errorf("reliability %v: Fitness not decreasing at latency %v (%v -> %v)", r, lat, prev, cur)
			}
			prev = cur
		}
	}
}

func TestFitnessSymmetric(t *testing.T) {
	values := []float64{0, 0.1, 1, 2.5, 9, 30}
	for _, a := range values {
		for _, b := range values {
			if Fitness(a, b) != Fitness(b, a) {
				t.Errorf("Fitness(%v, %v) = %v but Fitness(%v, %v) = %v", a, b, Fitness(a, b), b, a, Fitness(b, a))
			}
		}
	}
}

func TestFitnessBounded(t *testing.T) {
	values := []float64{0, 0.01, 1, 5, 10, 20}
	for _, r := range values {
		for _, lat := range values {
			f := Fitness(r, lat)
			if f <= 0 || f > 1 {
				t.Errorf("Fitness(%v, %v) = %v out of (0, 1]", r, lat, f)
			}
			if (r != 0 || lat != 0) && f >= 1 {
				t.Errorf("Fitness(%v, %v) = %v, only the origin may reach 1", r, lat, f)
			}
		}
	}
	if Fitness(0, 0) != 1 {
		t.Errorf("Fitness(0, 0) = %v, want 1", Fitness(0, 0))
	}
}

func TestScoreDropsFailures(t *testing.T) {
	results := []ProbeResult{
		{Candidate: Candidate{Index: 0, Reliability: 1}, Latency: 200 * time.Millisecond},
		{Candidate: Candidate{Index: 1, Reliability: 1}, Err: errors.New("connection refused")},
		{Candidate: Candidate{Index: 2, Reliability: 3}, Latency: 2 * time.Second},
	}

	scored := Score(results)
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored results, got %d", len(scored))
	}
	if scored[0].Candidate.Index != 0 || scored[1].Candidate.Index != 2 {
		t.Errorf("unexpected scored order: %d, %d", scored[0].Candidate.Index, scored[1].Candidate.Index)
	}
	if want := Fitness(3, 2); scored[1].Fitness != want {
		t.Errorf("expected fitness %v computed in seconds, got %v", want, scored[1].Fitness)
	}
}
