package models

import "time"

// DataSource is the provenance label shown next to a market analysis.
type DataSource string

const (
	DataSourceMLS           DataSource = "MLS"
	DataSourcePublicRecords DataSource = "public records"
	DataSourceManual        DataSource = "manual"
	DataSourceCombined      DataSource = "combined"
	DataSourceDemo          DataSource = "demo"
)

// IsFallback reports whether the analysis was built on demo/fallback data.
func (d DataSource) IsFallback() bool {
	return d == DataSourceDemo
}

// MarketAnalysis aggregates a comp set. It is always derived from the comps
// in use at computation time.
type MarketAnalysis struct {
	AvgSalePrice      float64    `json:"avg_sale_price"`
	AvgPricePerSqft   float64    `json:"avg_price_per_sqft"`
	MedianSalePrice   float64    `json:"median_sale_price"`
	SuggestedValueMin float64    `json:"suggested_value_min"`
	SuggestedValueMax float64    `json:"suggested_value_max"`
	ComparablesCount  int        `json:"comparables_count"`
	TrendPercent      float64    `json:"trend_percent"`
	DataSource        DataSource `json:"data_source"`
	IsDegraded        bool       `json:"is_degraded"`
	OfferVsMarket     *float64   `json:"offer_vs_market,omitempty"`
}

// Valuation is the AVM output for one subject.
type Valuation struct {
	EstimatedValue       float64 `json:"estimated_value"`
	MinValue             float64 `json:"min_value"`
	MaxValue             float64 `json:"max_value"`
	Confidence           float64 `json:"confidence"`
	PricePerSqft         float64 `json:"price_per_sqft"`
	SubjectSquareFeet    float64 `json:"subject_square_feet"`
	SubjectSqftEstimated bool    `json:"subject_sqft_estimated"`
	CompsUsed            int     `json:"comps_used"`
	IsDegraded           bool    `json:"is_degraded"`
}

// AnalysisRecord is an append-only, user-attributed snapshot of a saved
// valuation. Records are never updated.
type AnalysisRecord struct {
	ID          string               `gorm:"type:varchar(36);primaryKey" json:"id"`
	SubjectID   string               `gorm:"type:varchar(255);not null;index" json:"subject_id"`
	RadiusMiles float64              `json:"radius_miles"`
	Comparables []ComparableProperty `gorm:"serializer:json;type:text" json:"comparables"`
	Analysis    MarketAnalysis       `gorm:"serializer:json;type:text" json:"analysis"`
	Valuation   *Valuation           `gorm:"serializer:json;type:text" json:"valuation,omitempty"`
	Notes       string               `gorm:"type:text" json:"notes,omitempty"`
	Actor       string               `gorm:"type:varchar(255);not null" json:"actor"`
	CreatedAt   time.Time            `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// ManualComp is a user-submitted comp link waiting to be merged into lookups
// for its subject.
type ManualComp struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	SubjectID       string     `gorm:"type:varchar(255);not null;index" json:"subject_id"`
	PropertyAddress string     `gorm:"type:text;not null" json:"property_address"`
	URL             string     `gorm:"type:text" json:"url"`
	SourceLabel     string     `gorm:"type:varchar(100)" json:"source"`
	Notes           string     `gorm:"type:text" json:"notes,omitempty"`
	SalePrice       *float64   `json:"sale_price,omitempty"`
	SquareFeet      *float64   `json:"square_feet,omitempty"`
	Bedrooms        *int       `json:"bedrooms,omitempty"`
	Bathrooms       *float64   `json:"bathrooms,omitempty"`
	SaleDate        *time.Time `json:"sale_date,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
}

// TableName specifies the table name
func (ManualComp) TableName() string {
	return "manual_comps"
}
