package comps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"compvalue/server/internal/models"
)

// RawRecord is a comp as delivered by one kind of source. The concrete
// variants are APIRecord, PublicRecord and ManualRecord; each has its own
// adapter into models.ComparableProperty.
type RawRecord interface {
	recordKind() string
}

// Number is a numeric field that sources send as a JSON number, a numeric
// string, or a formatted string such as "$250,000" or "1,500 sqft".
type Number struct {
	Value float64
	Valid bool
}

// NewNumber returns a valid Number.
func NewNumber(v float64) Number {
	return Number{Value: v, Valid: true}
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, ok := ParseNumber(s)
		*n = Number{Value: v, Valid: ok}
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		// Non-numeric values are treated as missing rather than failing the
		// whole payload.
		*n = Number{}
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Ptr returns the value as a pointer, nil when missing.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// IntPtr returns the value rounded to an int pointer, nil when missing.
func (n Number) IntPtr() *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Value + 0.5)
	return &v
}

// ParseNumber extracts a float from a loosely formatted string.
func ParseNumber(s string) (float64, bool) {
	var b strings.Builder
	seenDigit := false
scan:
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == '.' || (r == '-' && b.Len() == 0):
			b.WriteRune(r)
		case r == ',' || r == '$' || r == ' ':
			// thousands separators and currency
		default:
			if seenDigit {
				// stop at trailing units like "sqft"
				break scan
			}
		}
	}
	if !seenDigit {
		return 0, false
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// APIRecord is one comparable returned by an external valuation API.
type APIRecord struct {
	ID            string `json:"id"`
	Address       string `json:"formattedAddress"`
	AddressLine   string `json:"addressLine1"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zipCode"`
	PropertyType  string `json:"propertyType"`
	Price         Number `json:"price"`
	SquareFootage Number `json:"squareFootage"`
	Bedrooms      Number `json:"bedrooms"`
	Bathrooms     Number `json:"bathrooms"`
	Distance      Number `json:"distance"`
	Latitude      Number `json:"latitude"`
	Longitude     Number `json:"longitude"`
	SoldDate      string `json:"removedDate"`
	ListedDate    string `json:"listedDate"`
}

func (APIRecord) recordKind() string { return "api" }

// PublicRecord is one row of the county sales import.
type PublicRecord struct {
	ID           int64    `json:"id,omitempty"`
	Street       string   `json:"street"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	ZipCode      string   `json:"zip_code"`
	PropertyType string   `json:"property_type"`
	SalePrice    *float64 `json:"sale_price"`
	LivingArea   *float64 `json:"living_area"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *float64 `json:"bathrooms"`
	SaleDate     string   `json:"sale_date"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

func (PublicRecord) recordKind() string { return "public_record" }

// ManualRecord wraps a user-submitted comp link.
type ManualRecord struct {
	Comp models.ManualComp
}

func (ManualRecord) recordKind() string { return "manual" }

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// ParseDate accepts the date formats seen across sources.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", s)
}
