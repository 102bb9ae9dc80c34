package models

import "time"

// SourceTag identifies where a comparable sale came from.
type SourceTag string

const (
	SourceAPIPrimary   SourceTag = "api_primary"
	SourceAPISecondary SourceTag = "api_secondary"
	SourcePublicRecord SourceTag = "public_record"
	SourceManual       SourceTag = "manual"
	SourceDemo         SourceTag = "demo"
	SourceUnknown      SourceTag = "unknown"
)

// ValidSourceTags is the set of recognized source tags.
var ValidSourceTags = []SourceTag{
	SourceAPIPrimary,
	SourceAPISecondary,
	SourcePublicRecord,
	SourceManual,
	SourceDemo,
	SourceUnknown,
}

// IsValid checks if a source tag is recognized.
func (t SourceTag) IsValid() bool {
	for _, v := range ValidSourceTags {
		if t == v {
			return true
		}
	}
	return false
}

// IsFallback reports whether the tag marks the lowest-confidence tier.
// Data with this tag is never treated as authoritative.
func (t SourceTag) IsFallback() bool {
	return t == SourceDemo
}

// SubjectProperty is the property being valued. The engine reads it and may
// propose a new estimated value but never owns it.
type SubjectProperty struct {
	ID             string   `json:"id"`
	Address        string   `json:"address"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	ZipCode        string   `json:"zip_code"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	SquareFeet     *float64 `json:"square_feet,omitempty"`
	Bedrooms       *int     `json:"bedrooms,omitempty"`
	Bathrooms      *float64 `json:"bathrooms,omitempty"`
	PropertyType   string   `json:"property_type,omitempty"`
	EstimatedValue float64  `json:"estimated_value"`
	OfferAmount    *float64 `json:"offer_amount,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (s SubjectProperty) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// ComparableProperty is a sold or listed property used as valuation evidence.
// Values are produced by the normalizer and treated as immutable afterwards.
type ComparableProperty struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	City         string     `json:"city,omitempty"`
	State        string     `json:"state,omitempty"`
	ZipCode      string     `json:"zip_code,omitempty"`
	SalePrice    float64    `json:"sale_price"`
	SaleDate     *time.Time `json:"sale_date,omitempty"`
	SquareFeet   float64    `json:"square_feet"`
	Bedrooms     *int       `json:"bedrooms,omitempty"`
	Bathrooms    *float64   `json:"bathrooms,omitempty"`
	PropertyType string     `json:"property_type,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Distance     *float64   `json:"distance_miles,omitempty"`
	PricePerSqft float64    `json:"price_per_sqft"`
	Similarity   float64    `json:"similarity_score"`
	Source       SourceTag  `json:"source"`
	URL          string     `json:"url,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// IsValid reports whether the comp may contribute to averages and estimates.
func (c ComparableProperty) IsValid() bool {
	return c.SalePrice > 0 && c.SquareFeet > 0
}

// PricePerSqft returns price / sqft, and false when sqft is not positive.
func PricePerSqft(price, sqft float64) (float64, bool) {
	if sqft <= 0 {
		return 0, false
	}
	return price / sqft, true
}
