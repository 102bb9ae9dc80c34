// Package avm turns a comp set into a market analysis and a point estimate
// with a confidence band.
package avm

import (
	"math"
	"sort"

	"compvalue/server/internal/models"
)

const (
	// FallbackConfidence is the confidence reported on the degraded path.
	FallbackConfidence = 10.0
	// FallbackBand is the half-width of the band on the degraded path.
	FallbackBand = 0.25

	baseBand     = 0.05
	variableBand = 0.20

	// Confidence is split between comp count and price/sqft dispersion.
	countWeight      = 60.0
	dispersionWeight = 40.0
	saturatingCount  = 10
	// A coefficient of variation at or above this contributes nothing.
	maxCV = 0.5
)

// Estimate values subject from comps. Comps without a usable price per sqft
// are ignored. When none are left the degraded fallback is used: the mean
// sale price of whatever comps carry a price, or the subject's own
// EstimatedValue when none do.
func Estimate(comps []models.ComparableProperty, subject models.SubjectProperty) models.Valuation {
	var ppsf, sqft []float64
	for _, c := range comps {
		if v, ok := models.PricePerSqft(c.SalePrice, c.SquareFeet); ok && c.SalePrice > 0 {
			ppsf = append(ppsf, v)
			sqft = append(sqft, c.SquareFeet)
		}
	}

	if len(ppsf) == 0 {
		return fallback(comps, subject)
	}

	mean := Mean(ppsf)
	blended := (Median(ppsf) + mean) / 2

	v := models.Valuation{
		PricePerSqft: blended,
		CompsUsed:    len(ppsf),
	}
	if subject.SquareFeet != nil && *subject.SquareFeet > 0 {
		v.SubjectSquareFeet = *subject.SquareFeet
	} else {
		// Unknown subject size borrows the comp median, which biases the
		// estimate toward the typical comp.
		v.SubjectSquareFeet = Median(sqft)
		v.SubjectSqftEstimated = true
	}

	v.EstimatedValue = blended * v.SubjectSquareFeet
	v.Confidence = Confidence(len(ppsf), CoefficientOfVariation(ppsf, mean))
	band := baseBand + variableBand*(100-v.Confidence)/100
	v.MinValue = v.EstimatedValue * (1 - band)
	v.MaxValue = v.EstimatedValue * (1 + band)
	return v
}

func fallback(comps []models.ComparableProperty, subject models.SubjectProperty) models.Valuation {
	var prices []float64
	for _, c := range comps {
		if c.SalePrice > 0 {
			prices = append(prices, c.SalePrice)
		}
	}

	value := subject.EstimatedValue
	if len(prices) > 0 {
		value = Mean(prices)
	}
	if value < 0 {
		value = 0
	}

	v := models.Valuation{
		EstimatedValue: value,
		MinValue:       value * (1 - FallbackBand),
		MaxValue:       value * (1 + FallbackBand),
		Confidence:     FallbackConfidence,
		IsDegraded:     true,
	}
	if subject.SquareFeet != nil && *subject.SquareFeet > 0 {
		v.SubjectSquareFeet = *subject.SquareFeet
		v.PricePerSqft = value / *subject.SquareFeet
	}
	return v
}

// Confidence maps comp count and price/sqft dispersion to 0..100.
func Confidence(count int, cv float64) float64 {
	if count <= 0 {
		return 0
	}
	n := count
	if n > saturatingCount {
		n = saturatingCount
	}
	countScore := countWeight * float64(n) / saturatingCount

	if math.IsNaN(cv) || cv < 0 {
		cv = 0
	}
	dispersion := 1 - cv/maxCV
	if dispersion < 0 {
		dispersion = 0
	}

	c := countScore + dispersionWeight*dispersion
	return math.Max(0, math.Min(100, c))
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the median without reordering values.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// CoefficientOfVariation returns the population stddev over mean.
func CoefficientOfVariation(values []float64, mean float64) float64 {
	if len(values) < 2 || mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / math.Abs(mean)
}
