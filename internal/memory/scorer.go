package memory

import (
	"math"
	"sort"
	"time"
)

// Weights configures the contribution of each retrieval component.
// All three default to 1.0, giving the components equal say.
type Weights struct {
	Recency    float64
	Relevance  float64
	Importance float64
}

// DefaultWeights weighs the three components equally.
var DefaultWeights = Weights{Recency: 1, Relevance: 1, Importance: 1}

// Scorer ranks candidate records by a weighted sum of recency, relevance,
// and importance. Each component lives in [0,1] before weighting.
type Scorer struct {
	weights Weights
	decay   float64 // exponential recency decay per hour
}

// NewScorer creates a scorer. decay is the per-hour recency factor, e.g.
// 0.995 halves a record's recency score in about 5.7 days.
func NewScorer(weights Weights, decay float64) *Scorer {
	if decay <= 0 || decay > 1 {
		decay = 0.995
	}
	return &Scorer{weights: weights, decay: decay}
}

// Scored pairs a record with its retrieval score.
type Scored struct {
	Record     *Record
	Score      float64
	Recency    float64
	Relevance  float64
	Importance float64
}

// Score computes the composite score of one candidate at time now.
func (s *Scorer) Score(cand QueryResult, now time.Time) Scored {
	rec := s.recency(cand.Record.CreatedAt(), now)
	rel := clamp01(cand.Similarity)
	imp := clamp01(cand.Record.Importance())
	return Scored{
		Record:     cand.Record,
		Recency:    rec,
		Relevance:  rel,
		Importance: imp,
		Score:      s.weights.Recency*rec + s.weights.Relevance*rel + s.weights.Importance*imp,
	}
}

// TopK scores every candidate and returns the best k, highest score first.
// Ties go to the newer record. Returns fewer than k when fewer exist.
func (s *Scorer) TopK(cands []QueryResult, k int, now time.Time) []Scored {
	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		scored = append(scored, s.Score(c, now))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.CreatedAt().After(scored[j].Record.CreatedAt())
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// recency is decay^hours-elapsed: 1.0 for a record created now, falling
// exponentially with age. Future timestamps (clock skew) score 1.0.
func (s *Scorer) recency(createdAt, now time.Time) float64 {
	hours := now.Sub(createdAt).Hours()
	if hours <= 0 {
		return 1
	}
	return math.Pow(s.decay, hours)
}
