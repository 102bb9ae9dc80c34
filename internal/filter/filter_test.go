package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"compvalue/server/internal/models"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testComps() []models.ComparableProperty {
	recent := now.AddDate(0, -2, 0)
	old := now.AddDate(0, -14, 0)
	return []models.ComparableProperty{
		{ID: "a", SalePrice: 250000, SquareFeet: 1500, Bedrooms: intPtr(3), Bathrooms: floatPtr(2), Distance: floatPtr(0.5), SaleDate: &recent, PropertyType: "Single Family"},
		{ID: "b", SalePrice: 300000, SquareFeet: 1800, Bedrooms: intPtr(4), Bathrooms: floatPtr(2.5), Distance: floatPtr(1.2), SaleDate: &old, PropertyType: "single family"},
		{ID: "c", SalePrice: 200000, SquareFeet: 1200, Distance: floatPtr(2.5), PropertyType: "Condo"},
		{ID: "d", SalePrice: 220000, SquareFeet: 1300, Bedrooms: intPtr(2)},
	}
}

func ids(comps []models.ComparableProperty) []string {
	out := make([]string, len(comps))
	for i, c := range comps {
		out[i] = c.ID
	}
	return out
}

func TestApply_MaxDistance(t *testing.T) {
	comps := testComps()[:3]
	result := Apply(comps, models.FilterConfig{MaxDistance: floatPtr(1.0)}, now)
	assert.Equal(t, []string{"a"}, ids(result))
}

func TestApply_EmptyConfigKeepsEverything(t *testing.T) {
	comps := testComps()
	result := Apply(comps, models.FilterConfig{}, now)
	assert.Equal(t, ids(comps), ids(result))
}

func TestApply_MissingFieldFailsActiveConstraint(t *testing.T) {
	comps := testComps()

	// "d" has no distance
	assert.NotContains(t, ids(Apply(comps, models.FilterConfig{MaxDistance: floatPtr(100)}, now)), "d")

	// "c" has no bedrooms
	assert.Equal(t, []string{"a", "b", "d"}, ids(Apply(comps, models.FilterConfig{MinBeds: intPtr(0)}, now)))

	// "c" and "d" have no sale date
	assert.Equal(t, []string{"a", "b"}, ids(Apply(comps, models.FilterConfig{SaleWithinMonths: intPtr(120)}, now)))

	// "d" has no property type
	assert.Equal(t, []string{"a", "b"}, ids(Apply(comps, models.FilterConfig{PropertyType: strPtr("SINGLE FAMILY")}, now)))
}

func TestApply_AllConstraintsMustPass(t *testing.T) {
	cfg := models.FilterConfig{
		MaxDistance:      floatPtr(2),
		SaleWithinMonths: intPtr(6),
		MinBeds:          intPtr(3),
		MaxBaths:         floatPtr(2),
		MinSqft:          floatPtr(1000),
		MaxPrice:         floatPtr(260000),
	}
	assert.Equal(t, []string{"a"}, ids(Apply(testComps(), cfg, now)))
}

func TestApply_RangeBounds(t *testing.T) {
	comps := testComps()
	assert.Equal(t, []string{"a", "b"}, ids(Apply(comps, models.FilterConfig{MinSqft: floatPtr(1500)}, now)))
	assert.Equal(t, []string{"c", "d"}, ids(Apply(comps, models.FilterConfig{MaxSqft: floatPtr(1300)}, now)))
	assert.Equal(t, []string{"a", "d"}, ids(Apply(comps, models.FilterConfig{MinPrice: floatPtr(210000), MaxPrice: floatPtr(250000)}, now)))
	assert.Equal(t, []string{"b"}, ids(Apply(comps, models.FilterConfig{MinBaths: floatPtr(2.5)}, now)))
	assert.Equal(t, []string{"a", "d"}, ids(Apply(comps, models.FilterConfig{MaxBeds: intPtr(3)}, now)))
}

func TestApply_PureAndDeterministic(t *testing.T) {
	comps := testComps()
	cfg := models.FilterConfig{MaxDistance: floatPtr(2)}

	first := Apply(comps, cfg, now)
	second := Apply(comps, cfg, now)
	assert.Equal(t, first, second)
	assert.Len(t, comps, 4)
	assert.Equal(t, "a", comps[0].ID)
}

func TestApply_TighteningOnlyRemoves(t *testing.T) {
	comps := testComps()
	loose := Apply(comps, models.FilterConfig{MaxPrice: floatPtr(300000)}, now)

	for _, max := range []float64{280000, 250000, 210000, 100000} {
		tight := Apply(comps, models.FilterConfig{MaxPrice: floatPtr(max)}, now)
		assert.Subset(t, ids(loose), ids(tight))
		assert.LessOrEqual(t, len(tight), len(loose))
		loose = tight
	}
}
