// Package filter narrows a comp set to the subset used for valuation.
package filter

import (
	"strings"
	"time"

	"compvalue/server/internal/models"
)

// Apply returns the comps that satisfy every constraint set in cfg, in their
// original order. A comp missing the field an active constraint checks fails
// that constraint. Apply never modifies its input.
func Apply(comps []models.ComparableProperty, cfg models.FilterConfig, now time.Time) []models.ComparableProperty {
	out := make([]models.ComparableProperty, 0, len(comps))
	for _, c := range comps {
		if Matches(c, cfg, now) {
			out = append(out, c)
		}
	}
	return out
}

// Matches reports whether a single comp passes every active constraint.
func Matches(c models.ComparableProperty, cfg models.FilterConfig, now time.Time) bool {
	if cfg.MaxDistance != nil {
		if c.Distance == nil || *c.Distance > *cfg.MaxDistance {
			return false
		}
	}

	if cfg.SaleWithinMonths != nil {
		if c.SaleDate == nil {
			return false
		}
		cutoff := now.AddDate(0, -*cfg.SaleWithinMonths, 0)
		if c.SaleDate.Before(cutoff) {
			return false
		}
	}

	if cfg.PropertyType != nil && *cfg.PropertyType != "" {
		if c.PropertyType == "" || !strings.EqualFold(c.PropertyType, *cfg.PropertyType) {
			return false
		}
	}

	if cfg.MinBeds != nil || cfg.MaxBeds != nil {
		if c.Bedrooms == nil {
			return false
		}
		if cfg.MinBeds != nil && *c.Bedrooms < *cfg.MinBeds {
			return false
		}
		if cfg.MaxBeds != nil && *c.Bedrooms > *cfg.MaxBeds {
			return false
		}
	}

	if cfg.MinBaths != nil || cfg.MaxBaths != nil {
		if c.Bathrooms == nil {
			return false
		}
		if cfg.MinBaths != nil && *c.Bathrooms < *cfg.MinBaths {
			return false
		}
		if cfg.MaxBaths != nil && *c.Bathrooms > *cfg.MaxBaths {
			return false
		}
	}

	// Canonical comps always carry a positive sqft and price; a zero value
	// means the field is unknown.
	if cfg.MinSqft != nil || cfg.MaxSqft != nil {
		if c.SquareFeet <= 0 {
			return false
		}
		if cfg.MinSqft != nil && c.SquareFeet < *cfg.MinSqft {
			return false
		}
		if cfg.MaxSqft != nil && c.SquareFeet > *cfg.MaxSqft {
			return false
		}
	}

	if cfg.MinPrice != nil || cfg.MaxPrice != nil {
		if c.SalePrice <= 0 {
			return false
		}
		if cfg.MinPrice != nil && c.SalePrice < *cfg.MinPrice {
			return false
		}
		if cfg.MaxPrice != nil && c.SalePrice > *cfg.MaxPrice {
			return false
		}
	}

	return true
}
