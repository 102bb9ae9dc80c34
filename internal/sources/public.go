package sources

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"compvalue/server/internal/comps"
	"compvalue/server/internal/geometry"
	"compvalue/server/internal/models"
)

// SalesReader is the part of the database the public-record source reads.
type SalesReader interface {
	SalesInBound(ctx context.Context, bound orb.Bound, limit int) ([]comps.PublicRecord, error)
	SalesByZip(ctx context.Context, zip string, limit int) ([]comps.PublicRecord, error)
}

// PublicRecordSource serves comps from the imported sales table.
type PublicRecordSource struct {
	db SalesReader
	// scanLimit caps rows read per query before radius filtering.
	scanLimit int
}

func NewPublicRecordSource(db SalesReader) *PublicRecordSource {
	return &PublicRecordSource{db: db, scanLimit: 500}
}

func (s *PublicRecordSource) Name() string          { return "public_records" }
func (s *PublicRecordSource) Tag() models.SourceTag { return models.SourcePublicRecord }

// Fetch reads sales within the radius when the subject has coordinates and
// falls back to its zip code otherwise. A sale at the subject's own address
// is reported as subject facts rather than as a comp.
func (s *PublicRecordSource) Fetch(ctx context.Context, q Query) (Result, error) {
	var rows []comps.PublicRecord
	var err error

	hasCoords := q.Latitude != nil && q.Longitude != nil
	switch {
	case hasCoords && q.RadiusMiles > 0:
		bound := geometry.RadiusBound(*q.Latitude, *q.Longitude, q.RadiusMiles)
		rows, err = s.db.SalesInBound(ctx, bound, s.scanLimit)
	case q.ZipCode != "":
		rows, err = s.db.SalesByZip(ctx, q.ZipCode, s.scanLimit)
	default:
		return Result{}, fmt.Errorf("public records need coordinates or a zip code: %w", ErrAddressNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read public records: %w", err)
	}

	target := comps.NormalizeAddress(q.Address)
	res := Result{}
	for _, r := range rows {
		if target != "" && comps.NormalizeAddress(r.Street) == target {
			res.ResolvedAddress = r.Street
			res.Subject = &SubjectFacts{
				SquareFeet: r.LivingArea,
				Bedrooms:   r.Bedrooms,
				Bathrooms:  r.Bathrooms,
				Latitude:   r.Latitude,
				Longitude:  r.Longitude,
			}
			continue
		}
		if hasCoords && q.RadiusMiles > 0 {
			if r.Latitude == nil || r.Longitude == nil ||
				!geometry.WithinRadius(*q.Latitude, *q.Longitude, *r.Latitude, *r.Longitude, q.RadiusMiles) {
				continue
			}
		}
		res.Records = append(res.Records, r)
	}
	return res, nil
}
