package avm

import (
	"sort"

	"compvalue/server/internal/models"
)

// Analyze builds the market analysis for exactly the comps given. The
// suggested range comes from Estimate, so it always agrees with the AVM.
func Analyze(comps []models.ComparableProperty, subject models.SubjectProperty) models.MarketAnalysis {
	var prices, ppsf []float64
	for _, c := range comps {
		if c.SalePrice > 0 {
			prices = append(prices, c.SalePrice)
		}
		if v, ok := models.PricePerSqft(c.SalePrice, c.SquareFeet); ok && c.SalePrice > 0 {
			ppsf = append(ppsf, v)
		}
	}

	valuation := Estimate(comps, subject)
	a := models.MarketAnalysis{
		AvgSalePrice:      Mean(prices),
		AvgPricePerSqft:   Mean(ppsf),
		MedianSalePrice:   Median(prices),
		SuggestedValueMin: valuation.MinValue,
		SuggestedValueMax: valuation.MaxValue,
		ComparablesCount:  len(comps),
		TrendPercent:      Trend(comps),
		DataSource:        DetectDataSource(comps),
		IsDegraded:        valuation.IsDegraded,
	}
	a.IsDegraded = a.IsDegraded || a.DataSource.IsFallback()
	a.OfferVsMarket = OfferVsMarket(subject.OfferAmount, a.AvgSalePrice)
	return a
}

// OfferVsMarket returns (offer/avg - 1) * 100, or nil when either side is
// unknown.
func OfferVsMarket(offer *float64, avgSalePrice float64) *float64 {
	if offer == nil || avgSalePrice <= 0 {
		return nil
	}
	pct := (*offer/avgSalePrice - 1) * 100
	return &pct
}

// Trend compares the average price per sqft of the newer half of dated
// sales with the older half, as a percentage change. Fewer than two dated
// sales give 0.
func Trend(comps []models.ComparableProperty) float64 {
	type point struct {
		unix int64
		ppsf float64
	}
	var points []point
	for _, c := range comps {
		if c.SaleDate == nil {
			continue
		}
		if v, ok := models.PricePerSqft(c.SalePrice, c.SquareFeet); ok && c.SalePrice > 0 {
			points = append(points, point{c.SaleDate.Unix(), v})
		}
	}
	if len(points) < 2 {
		return 0
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].unix < points[j].unix })

	half := len(points) / 2
	var older, newer []float64
	for _, p := range points[:half] {
		older = append(older, p.ppsf)
	}
	for _, p := range points[len(points)-half:] {
		newer = append(newer, p.ppsf)
	}
	base := Mean(older)
	if base == 0 {
		return 0
	}
	return (Mean(newer)/base - 1) * 100
}

// DetectDataSource labels a comp set by the tags it carries. Any demo comp
// marks the whole set as demo. An empty set has no label.
func DetectDataSource(comps []models.ComparableProperty) models.DataSource {
	var api, public, manual, demo, other bool
	for _, c := range comps {
		switch c.Source {
		case models.SourceAPIPrimary, models.SourceAPISecondary:
			api = true
		case models.SourcePublicRecord:
			public = true
		case models.SourceManual:
			manual = true
		case models.SourceDemo:
			demo = true
		default:
			other = true
		}
	}

	kinds := 0
	for _, present := range []bool{api, public, manual, other} {
		if present {
			kinds++
		}
	}

	switch {
	case demo:
		return models.DataSourceDemo
	case kinds == 0:
		return ""
	case kinds > 1:
		return models.DataSourceCombined
	case manual:
		return models.DataSourceManual
	case api:
		return models.DataSourceMLS
	case public:
		return models.DataSourcePublicRecords
	default:
		return models.DataSourceCombined
	}
}
