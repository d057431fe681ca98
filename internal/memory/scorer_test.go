package memory

import (
	"math"
	"testing"
	"time"
)

func obsAt(t time.Time, importance float64) *Record {
	return NewObservation("c", "u", "user", "m", t, importance)
}

func TestRecencyMonotonicallyDecreases(t *testing.T) {
	s := NewScorer(DefaultWeights, 0.995)
	now := time.Now()

	prev := math.Inf(1)
	for _, age := range []time.Duration{0, time.Hour, 24 * time.Hour, 7 * 24 * time.Hour} {
		sc := s.Score(QueryResult{Record: obsAt(now.Add(-age), 0.5), Similarity: 0}, now)
		if sc.Recency > prev {
			t.Errorf("recency increased with age %v: %v > %v", age, sc.Recency, prev)
		}
		if sc.Recency <= 0 || sc.Recency > 1 {
			t.Errorf("recency out of range at age %v: %v", age, sc.Recency)
		}
		prev = sc.Recency
	}

	fresh := s.Score(QueryResult{Record: obsAt(now, 0.5)}, now)
	if fresh.Recency != 1 {
		t.Errorf("recency of a fresh record = %v, want 1", fresh.Recency)
	}
}

func TestRecencyHourDecayFactor(t *testing.T) {
	s := NewScorer(DefaultWeights, 0.995)
	now := time.Now()
	sc := s.Score(QueryResult{Record: obsAt(now.Add(-time.Hour), 0)}, now)
	if math.Abs(sc.Recency-0.995) > 1e-9 {
		t.Errorf("one-hour recency = %v, want 0.995", sc.Recency)
	}
}

func TestRelevanceClamped(t *testing.T) {
	s := NewScorer(DefaultWeights, 0.995)
	now := time.Now()

	sc := s.Score(QueryResult{Record: obsAt(now, 0), Similarity: -0.4}, now)
	if sc.Relevance != 0 {
		t.Errorf("negative similarity should clamp to 0, got %v", sc.Relevance)
	}
	sc = s.Score(QueryResult{Record: obsAt(now, 0), Similarity: 1.3}, now)
	if sc.Relevance != 1 {
		t.Errorf("similarity above 1 should clamp to 1, got %v", sc.Relevance)
	}
}

func TestWeightsScaleComponents(t *testing.T) {
	now := time.Now()
	cand := QueryResult{Record: obsAt(now, 1), Similarity: 1}

	equal := NewScorer(Weights{Recency: 1, Relevance: 1, Importance: 1}, 0.995).Score(cand, now)
	if math.Abs(equal.Score-3) > 1e-9 {
		t.Errorf("perfect candidate with unit weights = %v, want 3", equal.Score)
	}

	onlyImp := NewScorer(Weights{Importance: 2}, 0.995).Score(cand, now)
	if math.Abs(onlyImp.Score-2) > 1e-9 {
		t.Errorf("importance-only score = %v, want 2", onlyImp.Score)
	}
}

func TestTopKReturnsBestDescending(t *testing.T) {
	s := NewScorer(Weights{Importance: 1}, 0.995) // importance only, deterministic
	now := time.Now()

	var cands []QueryResult
	for _, imp := range []float64{0.2, 0.9, 0.5, 0.7, 0.1} {
		cands = append(cands, QueryResult{Record: obsAt(now, imp)})
	}

	top := s.TopK(cands, 3, now)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	want := []float64{0.9, 0.7, 0.5}
	for i, sc := range top {
		if math.Abs(sc.Score-want[i]) > 1e-9 {
			t.Errorf("rank %d score = %v, want %v", i, sc.Score, want[i])
		}
	}
}

func TestTopKFewerCandidatesThanK(t *testing.T) {
	s := NewScorer(DefaultWeights, 0.995)
	now := time.Now()
	top := s.TopK([]QueryResult{{Record: obsAt(now, 0.5)}}, 10, now)
	if len(top) != 1 {
		t.Errorf("len = %d, want 1", len(top))
	}
}

func TestTopKTieBreaksNewerFirst(t *testing.T) {
	// Importance-only scorer and equal importance gives exact ties.
	s := NewScorer(Weights{Importance: 1}, 0.995)
	now := time.Now()

	older := obsAt(now.Add(-2*time.Hour), 0.5)
	newer := obsAt(now.Add(-1*time.Hour), 0.5)

	top := s.TopK([]QueryResult{{Record: older}, {Record: newer}}, 2, now)
	if top[0].Record.ID() != newer.ID() {
		t.Error("tie should rank the newer record first")
	}
}
