package models

import (
	"strings"
	"time"
)

// LookupRequest asks for the comps and market analysis of one subject.
type LookupRequest struct {
	SubjectID    string   `json:"subject_id"`
	Address      string   `json:"address" binding:"required"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	ZipCode      string   `json:"zip_code"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	SquareFeet   *float64 `json:"square_feet"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *float64 `json:"bathrooms"`
	PropertyType string   `json:"property_type"`
	RadiusMiles  float64  `json:"radius_miles"`
	MaxComps     int      `json:"max_comps"`
	BasePrice    float64  `json:"base_price"`
	OfferAmount  *float64 `json:"offer_amount"`
	ForceRefresh bool     `json:"force_refresh"`
}

// Subject builds the subject property described by the request.
func (r LookupRequest) Subject() SubjectProperty {
	return SubjectProperty{
		ID:             r.SubjectID,
		Address:        r.Address,
		City:           r.City,
		State:          r.State,
		ZipCode:        r.ZipCode,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		SquareFeet:     r.SquareFeet,
		Bedrooms:       r.Bedrooms,
		Bathrooms:      r.Bathrooms,
		PropertyType:   r.PropertyType,
		EstimatedValue: r.BasePrice,
		OfferAmount:    r.OfferAmount,
	}
}

// FullAddress joins the address parts that are present.
func (r LookupRequest) FullAddress() string {
	parts := []string{r.Address}
	if r.City != "" {
		parts = append(parts, r.City)
	}
	stateZip := strings.TrimSpace(r.State + " " + r.ZipCode)
	if stateZip != "" {
		parts = append(parts, stateZip)
	}
	return strings.Join(parts, ", ")
}

// CompData carries the optional sale details attached to a manual comp link.
type CompData struct {
	SalePrice  *float64   `json:"sale_price"`
	SquareFeet *float64   `json:"square_feet"`
	Bedrooms   *int       `json:"bedrooms"`
	Bathrooms  *float64   `json:"bathrooms"`
	SaleDate   *time.Time `json:"sale_date"`
}

// ManualCompSubmission is a user-submitted comp link.
type ManualCompSubmission struct {
	PropertyAddress string    `json:"property_address" binding:"required"`
	PropertyID      string    `json:"property_id"`
	URL             string    `json:"url" binding:"required"`
	Source          string    `json:"source"`
	Notes           string    `json:"notes"`
	CompData        *CompData `json:"comp_data"`
}

// FilterConfig narrows a comp set to the active subset used for valuation.
// A nil field means no restriction.
type FilterConfig struct {
	MaxDistance      *float64 `json:"max_distance"`
	SaleWithinMonths *int     `json:"sale_within_months"`
	PropertyType     *string  `json:"property_type"`
	MinBeds          *int     `json:"min_beds"`
	MaxBeds          *int     `json:"max_beds"`
	MinBaths         *float64 `json:"min_baths"`
	MaxBaths         *float64 `json:"max_baths"`
	MinSqft          *float64 `json:"min_sqft"`
	MaxSqft          *float64 `json:"max_sqft"`
	MinPrice         *float64 `json:"min_price"`
	MaxPrice         *float64 `json:"max_price"`
}

// IsEmpty reports whether no constraint is set.
func (f FilterConfig) IsEmpty() bool {
	return f.MaxDistance == nil && f.SaleWithinMonths == nil && f.PropertyType == nil &&
		f.MinBeds == nil && f.MaxBeds == nil && f.MinBaths == nil && f.MaxBaths == nil &&
		f.MinSqft == nil && f.MaxSqft == nil && f.MinPrice == nil && f.MaxPrice == nil
}
