// Package similarity scores how closely a candidate matches a subject, both
// for free-text values (addresses) and for structured comps.
package similarity

import (
	"math"
	"sort"
	"strings"
	"time"

	"compvalue/server/internal/models"
)

// MatchThreshold is the score a candidate must exceed to count as a match.
const MatchThreshold = 0.5

// Text scores two strings in [0,1]: 1.0 on exact match, 0.8 when one
// contains the other, otherwise the share of common words over the larger
// word count. Comparison is case-insensitive.
func Text(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	seen := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		seen[w] = true
	}
	common := 0
	for _, w := range wordsA {
		if seen[w] {
			common++
			delete(seen, w)
		}
	}
	longest := len(wordsA)
	if len(wordsB) > longest {
		longest = len(wordsB)
	}
	return float64(common) / float64(longest)
}

// BestMatch returns the index and score of the best-scoring candidate for
// target. ok is false when no candidate scores above MatchThreshold.
func BestMatch(target string, candidates []string) (index int, score float64, ok bool) {
	index = -1
	for i, c := range candidates {
		s := Text(target, c)
		if s > score {
			index, score = i, s
		}
	}
	if score <= MatchThreshold {
		return -1, score, false
	}
	return index, score, true
}

// Weights tunes the structured scorer. Each factor is monotonic: closer,
// more recent, and smaller deltas always score higher.
type Weights struct {
	Distance float64
	Recency  float64
	Size     float64
	Bedrooms float64
	Baths    float64

	// MaxDistanceMiles is the distance at which the distance factor hits 0.
	MaxDistanceMiles float64
	// MaxAgeMonths is the sale age at which the recency factor hits 0.
	MaxAgeMonths float64
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{
		Distance:         0.35,
		Recency:          0.25,
		Size:             0.20,
		Bedrooms:         0.10,
		Baths:            0.10,
		MaxDistanceMiles: 5,
		MaxAgeMonths:     24,
	}
}

// Scorer computes structured similarity between a subject and its comps.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// NewScorer creates a scorer. Non-positive horizons fall back to defaults.
func NewScorer(weights Weights) *Scorer {
	def := DefaultWeights()
	if weights.MaxDistanceMiles <= 0 {
		weights.MaxDistanceMiles = def.MaxDistanceMiles
	}
	if weights.MaxAgeMonths <= 0 {
		weights.MaxAgeMonths = def.MaxAgeMonths
	}
	if weights.Distance+weights.Recency+weights.Size+weights.Bedrooms+weights.Baths <= 0 {
		weights.Distance, weights.Recency, weights.Size = def.Distance, def.Recency, def.Size
		weights.Bedrooms, weights.Baths = def.Bedrooms, def.Baths
	}
	return &Scorer{weights: weights, now: time.Now}
}

// Score returns the structured similarity of comp to subject in [0,1].
// Factors that cannot be computed because a value is missing on either side
// are left out and the remaining weights are renormalized.
func (s *Scorer) Score(subject models.SubjectProperty, comp models.ComparableProperty) float64 {
	var total, weightSum float64
	add := func(weight, factor float64) {
		if weight <= 0 {
			return
		}
		total += weight * clamp01(factor)
		weightSum += weight
	}

	if comp.Distance != nil {
		add(s.weights.Distance, 1-*comp.Distance/s.weights.MaxDistanceMiles)
	}
	if comp.SaleDate != nil {
		months := s.now().Sub(*comp.SaleDate).Hours() / (24 * 30.44)
		if months < 0 {
			months = 0
		}
		add(s.weights.Recency, 1-months/s.weights.MaxAgeMonths)
	}
	if subject.SquareFeet != nil && *subject.SquareFeet > 0 {
		delta := math.Abs(comp.SquareFeet - *subject.SquareFeet)
		add(s.weights.Size, 1-delta/(*subject.SquareFeet))
	}
	if subject.Bedrooms != nil && comp.Bedrooms != nil {
		delta := math.Abs(float64(*comp.Bedrooms - *subject.Bedrooms))
		add(s.weights.Bedrooms, 1/(1+delta))
	}
	if subject.Bathrooms != nil && comp.Bathrooms != nil {
		delta := math.Abs(*comp.Bathrooms - *subject.Bathrooms)
		add(s.weights.Baths, 1/(1+delta))
	}

	if weightSum == 0 {
		return 0
	}
	return clamp01(total / weightSum)
}

// ScoreAll returns a copy of comps with Similarity filled in. Order is kept.
func (s *Scorer) ScoreAll(subject models.SubjectProperty, comps []models.ComparableProperty) []models.ComparableProperty {
	out := make([]models.ComparableProperty, len(comps))
	for i, c := range comps {
		c.Similarity = s.Score(subject, c)
		out[i] = c
	}
	return out
}

// Top keeps every manual comp plus the n best-scoring others, in their
// original order. It reports how many comps were cut. n <= 0 keeps all.
func Top(comps []models.ComparableProperty, n int) ([]models.ComparableProperty, int) {
	var ranked []int
	for i, c := range comps {
		if c.Source != models.SourceManual {
			ranked = append(ranked, i)
		}
	}
	if n <= 0 || len(ranked) <= n {
		return comps, 0
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return comps[ranked[a]].Similarity > comps[ranked[b]].Similarity
	})
	cut := make(map[int]bool, len(ranked)-n)
	for _, i := range ranked[n:] {
		cut[i] = true
	}

	out := make([]models.ComparableProperty, 0, len(comps)-len(cut))
	for i, c := range comps {
		if !cut[i] {
			out = append(out, c)
		}
	}
	return out, len(cut)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
