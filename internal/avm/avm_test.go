package avm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compvalue/server/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func comp(price, sqft float64, tag models.SourceTag) models.ComparableProperty {
	c := models.ComparableProperty{SalePrice: price, SquareFeet: sqft, Source: tag}
	c.PricePerSqft, _ = models.PricePerSqft(price, sqft)
	return c
}

func uniformComps() []models.ComparableProperty {
	return []models.ComparableProperty{
		comp(250000, 1500, models.SourceAPIPrimary),
		comp(300000, 1800, models.SourceAPIPrimary),
		comp(200000, 1200, models.SourceAPIPrimary),
	}
}

func TestAnalyze_UniformPricePerSqft(t *testing.T) {
	a := Analyze(uniformComps(), models.SubjectProperty{})

	assert.InDelta(t, 166.67, a.AvgPricePerSqft, 0.01)
	assert.Equal(t, 250000.0, a.AvgSalePrice)
	assert.Equal(t, 250000.0, a.MedianSalePrice)
	assert.Equal(t, 3, a.ComparablesCount)
	assert.Equal(t, models.DataSourceMLS, a.DataSource)
	assert.False(t, a.IsDegraded)
	assert.Nil(t, a.OfferVsMarket)
}

func TestEstimate_UsesSubjectSqft(t *testing.T) {
	v := Estimate(uniformComps(), models.SubjectProperty{SquareFeet: floatPtr(2000)})

	assert.InDelta(t, 333333.33, v.EstimatedValue, 0.1)
	assert.Equal(t, 2000.0, v.SubjectSquareFeet)
	assert.False(t, v.SubjectSqftEstimated)
	assert.Equal(t, 3, v.CompsUsed)
	// zero dispersion, three comps
	assert.InDelta(t, 58.0, v.Confidence, 0.0001)
	assert.InDelta(t, v.EstimatedValue*(1-0.134), v.MinValue, 0.01)
	assert.InDelta(t, v.EstimatedValue*(1+0.134), v.MaxValue, 0.01)
}

func TestEstimate_UnknownSubjectSqftUsesMedian(t *testing.T) {
	v := Estimate(uniformComps(), models.SubjectProperty{})

	assert.True(t, v.SubjectSqftEstimated)
	assert.Equal(t, 1500.0, v.SubjectSquareFeet)
	assert.InDelta(t, 250000.0, v.EstimatedValue, 0.01)
}

func TestEstimate_ZeroCompsFallsBack(t *testing.T) {
	v := Estimate(nil, models.SubjectProperty{EstimatedValue: 85000})

	assert.True(t, v.IsDegraded)
	assert.Equal(t, FallbackConfidence, v.Confidence)
	assert.Equal(t, 85000.0, v.EstimatedValue)
	assert.Equal(t, 85000.0*0.75, v.MinValue)
	assert.Equal(t, 85000.0*1.25, v.MaxValue)
}

func TestEstimate_NoUsableSqftUsesMeanPrice(t *testing.T) {
	comps := []models.ComparableProperty{
		{SalePrice: 100000},
		{SalePrice: 200000},
	}
	v := Estimate(comps, models.SubjectProperty{EstimatedValue: 1})

	assert.True(t, v.IsDegraded)
	assert.Equal(t, 150000.0, v.EstimatedValue)
	assert.Equal(t, FallbackConfidence, v.Confidence)
}

func TestEstimate_AlwaysBounded(t *testing.T) {
	sets := [][]models.ComparableProperty{
		nil,
		uniformComps(),
		{comp(100000, 2000, models.SourceManual), comp(900000, 1000, models.SourceManual)},
		{comp(1, 1, models.SourceDemo)},
		{{SalePrice: 50000}},
	}

	for _, set := range sets {
		v := Estimate(set, models.SubjectProperty{EstimatedValue: 120000})
		assert.LessOrEqual(t, v.MinValue, v.EstimatedValue)
		assert.LessOrEqual(t, v.EstimatedValue, v.MaxValue)
		assert.GreaterOrEqual(t, v.Confidence, 0.0)
		assert.LessOrEqual(t, v.Confidence, 100.0)
	}
}

func TestConfidence(t *testing.T) {
	// more comps, same dispersion
	assert.Greater(t, Confidence(8, 0.1), Confidence(3, 0.1))
	// same count, wider dispersion
	assert.Greater(t, Confidence(5, 0.05), Confidence(5, 0.3))
	assert.Equal(t, 100.0, Confidence(25, 0))
	assert.Equal(t, 0.0, Confidence(0, 0))
}

func TestAnalyze_OfferBelowMarketIsNegative(t *testing.T) {
	comps := []models.ComparableProperty{
		comp(80000, 1000, models.SourcePublicRecord),
		comp(90000, 1100, models.SourcePublicRecord),
	}
	subject := models.SubjectProperty{EstimatedValue: 85000, OfferAmount: floatPtr(70000)}

	a := Analyze(comps, subject)
	require.NotNil(t, a.OfferVsMarket)
	assert.InDelta(t, (70000.0/85000.0-1)*100, *a.OfferVsMarket, 0.0001)
	assert.Less(t, *a.OfferVsMarket, 0.0)
	assert.Equal(t, models.DataSourcePublicRecords, a.DataSource)
}

func TestTrend(t *testing.T) {
	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	jul := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)

	older := comp(100000, 1000, models.SourceAPIPrimary)
	older.SaleDate = &jan
	newer := comp(110000, 1000, models.SourceAPIPrimary)
	newer.SaleDate = &jul

	assert.InDelta(t, 10.0, Trend([]models.ComparableProperty{newer, older}), 0.0001)
	assert.Equal(t, 0.0, Trend([]models.ComparableProperty{newer}))
	assert.Equal(t, 0.0, Trend(uniformComps()))
}

func TestDetectDataSource(t *testing.T) {
	api := comp(1, 1, models.SourceAPIPrimary)
	secondary := comp(1, 1, models.SourceAPISecondary)
	public := comp(1, 1, models.SourcePublicRecord)
	manual := comp(1, 1, models.SourceManual)
	demo := comp(1, 1, models.SourceDemo)

	assert.Equal(t, models.DataSourceMLS, DetectDataSource([]models.ComparableProperty{api, secondary}))
	assert.Equal(t, models.DataSourcePublicRecords, DetectDataSource([]models.ComparableProperty{public}))
	assert.Equal(t, models.DataSourceManual, DetectDataSource([]models.ComparableProperty{manual}))
	assert.Equal(t, models.DataSourceCombined, DetectDataSource([]models.ComparableProperty{api, manual}))
	assert.Equal(t, models.DataSourceCombined, DetectDataSource([]models.ComparableProperty{api, public}))
	assert.Equal(t, models.DataSourceDemo, DetectDataSource([]models.ComparableProperty{api, demo}))
	assert.Equal(t, models.DataSource(""), DetectDataSource(nil))
}

func TestAnalyze_DemoIsDegraded(t *testing.T) {
	a := Analyze([]models.ComparableProperty{comp(200000, 1000, models.SourceDemo)}, models.SubjectProperty{})
	assert.True(t, a.IsDegraded)
	assert.True(t, a.DataSource.IsFallback())
}
