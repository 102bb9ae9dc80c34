// Package comps converts raw comparable-sale records from every source kind
// into the canonical models.ComparableProperty.
package comps

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"compvalue/server/internal/models"
)

var (
	ErrMissingPrice   = errors.New("record has no usable sale price")
	ErrMissingSqft    = errors.New("record has no usable square footage")
	ErrMissingAddress = errors.New("record has no address")
	ErrUnknownRecord  = errors.New("unknown record kind")
)

// Normalize converts one raw record into a canonical comp. The source tag is
// always taken from the caller, never from the record body.
func Normalize(rec RawRecord, tag models.SourceTag) (models.ComparableProperty, error) {
	if !tag.IsValid() {
		tag = models.SourceUnknown
	}

	var c models.ComparableProperty
	var err error
	switch r := rec.(type) {
	case APIRecord:
		c, err = fromAPI(r)
	case *APIRecord:
		c, err = fromAPI(*r)
	case PublicRecord:
		c, err = fromPublicRecord(r)
	case *PublicRecord:
		c, err = fromPublicRecord(*r)
	case ManualRecord:
		c, err = fromManual(r)
	case *ManualRecord:
		c, err = fromManual(*r)
	default:
		return models.ComparableProperty{}, fmt.Errorf("%w: %T", ErrUnknownRecord, rec)
	}
	if err != nil {
		return models.ComparableProperty{}, err
	}

	if c.SalePrice <= 0 {
		return models.ComparableProperty{}, ErrMissingPrice
	}
	if c.SquareFeet <= 0 {
		return models.ComparableProperty{}, ErrMissingSqft
	}
	if strings.TrimSpace(c.Address) == "" {
		return models.ComparableProperty{}, ErrMissingAddress
	}

	c.Source = tag
	c.PricePerSqft, _ = models.PricePerSqft(c.SalePrice, c.SquareFeet)
	if c.ID == "" {
		c.ID = recordID(tag, c)
	}
	return c, nil
}

// NormalizeAll normalizes a batch and reports how many records were dropped.
func NormalizeAll(records []RawRecord, tag models.SourceTag) ([]models.ComparableProperty, int) {
	out := make([]models.ComparableProperty, 0, len(records))
	dropped := 0
	for _, rec := range records {
		c, err := Normalize(rec, tag)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

func fromAPI(r APIRecord) (models.ComparableProperty, error) {
	if !r.Price.Valid {
		return models.ComparableProperty{}, ErrMissingPrice
	}
	if !r.SquareFootage.Valid {
		return models.ComparableProperty{}, ErrMissingSqft
	}

	address := r.Address
	if address == "" {
		address = r.AddressLine
	}

	c := models.ComparableProperty{
		ID:           r.ID,
		Address:      strings.TrimSpace(address),
		City:         r.City,
		State:        r.State,
		ZipCode:      r.ZipCode,
		PropertyType: r.PropertyType,
		SalePrice:    r.Price.Value,
		SquareFeet:   r.SquareFootage.Value,
		Bedrooms:     r.Bedrooms.IntPtr(),
		Bathrooms:    r.Bathrooms.Ptr(),
		Distance:     r.Distance.Ptr(),
		Latitude:     r.Latitude.Ptr(),
		Longitude:    r.Longitude.Ptr(),
	}

	dateStr := r.SoldDate
	if dateStr == "" {
		dateStr = r.ListedDate
	}
	if dateStr != "" {
		if t, err := ParseDate(dateStr); err == nil {
			c.SaleDate = &t
		}
	}
	return c, nil
}

func fromPublicRecord(r PublicRecord) (models.ComparableProperty, error) {
	if r.SalePrice == nil {
		return models.ComparableProperty{}, ErrMissingPrice
	}
	if r.LivingArea == nil {
		return models.ComparableProperty{}, ErrMissingSqft
	}

	c := models.ComparableProperty{
		Address:      strings.TrimSpace(r.Street),
		City:         r.City,
		State:        r.State,
		ZipCode:      r.ZipCode,
		PropertyType: r.PropertyType,
		SalePrice:    *r.SalePrice,
		SquareFeet:   *r.LivingArea,
		Bedrooms:     r.Bedrooms,
		Bathrooms:    r.Bathrooms,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
	}
	if r.ID > 0 {
		c.ID = fmt.Sprintf("pr-%d", r.ID)
	}
	if r.SaleDate != "" {
		if t, err := ParseDate(r.SaleDate); err == nil {
			c.SaleDate = &t
		}
	}
	return c, nil
}

func fromManual(r ManualRecord) (models.ComparableProperty, error) {
	m := r.Comp
	if m.SalePrice == nil {
		return models.ComparableProperty{}, ErrMissingPrice
	}
	if m.SquareFeet == nil {
		return models.ComparableProperty{}, ErrMissingSqft
	}

	c := models.ComparableProperty{
		ID:         m.ID,
		Address:    strings.TrimSpace(m.PropertyAddress),
		SalePrice:  *m.SalePrice,
		SquareFeet: *m.SquareFeet,
		Bedrooms:   m.Bedrooms,
		Bathrooms:  m.Bathrooms,
		URL:        m.URL,
		Note:       m.Notes,
	}
	if m.SaleDate != nil {
		t := m.SaleDate.UTC()
		c.SaleDate = &t
	}
	return c, nil
}

// recordID derives a stable id from the sale itself, so re-sales of one
// address get distinct ids.
func recordID(tag models.SourceTag, c models.ComparableProperty) string {
	date := ""
	if c.SaleDate != nil {
		date = c.SaleDate.Format("2006-01-02")
	}
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%.2f", tag, NormalizeAddress(c.Address), date, c.SalePrice)))
	return hex.EncodeToString(h[:8])
}
