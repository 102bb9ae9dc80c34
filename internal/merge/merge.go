// Package merge folds user-submitted manual comps into an automatic comp set.
package merge

import (
	"compvalue/server/internal/avm"
	"compvalue/server/internal/comps"
	"compvalue/server/internal/models"
)

// Result is the merged comp set and the analysis computed over all of it.
type Result struct {
	Comps      []models.ComparableProperty
	Analysis   models.MarketAnalysis
	Duplicates int
	// Rejected counts manual comps without a usable price or size.
	Rejected int
}

// Merge appends manual comps to the automatic set. A manual comp is dropped
// as a duplicate only when its normalized address is identical to one
// already present; near matches are kept. The analysis is always recomputed
// over the merged list.
func Merge(automatic []models.ComparableProperty, manual []models.ManualComp, subject models.SubjectProperty) Result {
	merged := make([]models.ComparableProperty, 0, len(automatic)+len(manual))
	merged = append(merged, automatic...)

	seen := make(map[string]bool, len(automatic))
	for _, c := range automatic {
		seen[comps.NormalizeAddress(c.Address)] = true
	}

	res := Result{}
	for _, m := range manual {
		c, err := comps.Normalize(comps.ManualRecord{Comp: m}, models.SourceManual)
		if err != nil {
			res.Rejected++
			continue
		}
		addr := comps.NormalizeAddress(c.Address)
		if seen[addr] {
			res.Duplicates++
			continue
		}
		seen[addr] = true
		merged = append(merged, c)
	}

	res.Comps = merged
	res.Analysis = avm.Analyze(merged, subject)
	return res
}

// FromSubmission turns an API submission into a storable manual comp.
func FromSubmission(subjectID string, sub models.ManualCompSubmission) models.ManualComp {
	m := models.ManualComp{
		SubjectID:       subjectID,
		PropertyAddress: sub.PropertyAddress,
		URL:             sub.URL,
		SourceLabel:     sub.Source,
		Notes:           sub.Notes,
	}
	if d := sub.CompData; d != nil {
		m.SalePrice = d.SalePrice
		m.SquareFeet = d.SquareFeet
		m.Bedrooms = d.Bedrooms
		m.Bathrooms = d.Bathrooms
		m.SaleDate = d.SaleDate
	}
	return m
}
