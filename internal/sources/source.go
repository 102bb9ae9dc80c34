// Package sources fetches raw comparable sales from external providers and
// picks the result set to use.
package sources

import (
	"context"
	"errors"
	"fmt"

	"compvalue/server/internal/comps"
	"compvalue/server/internal/models"
)

// ErrAddressNotFound is returned by a source that does not know the subject
// address at all.
var ErrAddressNotFound = errors.New("address not found")

// Query describes the subject and search area sent to every source.
type Query struct {
	SubjectID    string
	Address      string
	City         string
	State        string
	ZipCode      string
	Latitude     *float64
	Longitude    *float64
	PropertyType string
	RadiusMiles  float64
	MaxComps     int
	BasePrice    float64
}

// QueryFromSubject builds a query for subject.
func QueryFromSubject(subject models.SubjectProperty, radiusMiles float64, maxComps int) Query {
	return Query{
		SubjectID:    subject.ID,
		Address:      subject.Address,
		City:         subject.City,
		State:        subject.State,
		ZipCode:      subject.ZipCode,
		Latitude:     subject.Latitude,
		Longitude:    subject.Longitude,
		PropertyType: subject.PropertyType,
		RadiusMiles:  radiusMiles,
		MaxComps:     maxComps,
		BasePrice:    subject.EstimatedValue,
	}
}

// SubjectFacts are attributes a source knows about the subject itself.
type SubjectFacts struct {
	SquareFeet *float64
	Bedrooms   *int
	Bathrooms  *float64
	Latitude   *float64
	Longitude  *float64
}

// Result is one source's raw answer.
type Result struct {
	// ResolvedAddress is the address the source matched the query to, if it
	// reports one.
	ResolvedAddress string
	Subject         *SubjectFacts
	Records         []comps.RawRecord
}

// Source is one provider of comparable sales.
type Source interface {
	Name() string
	Tag() models.SourceTag
	Fetch(ctx context.Context, q Query) (Result, error)
}

// NoResultsReason says why no source produced usable comps.
type NoResultsReason string

const (
	ReasonAddressNotFound NoResultsReason = "address_not_found"
	ReasonNoSalesInRadius NoResultsReason = "no_sales_in_radius"
	ReasonSourceError     NoResultsReason = "source_error"
)

// NoResultsError is returned when every source failed or came back empty.
type NoResultsError struct {
	Reason   NoResultsReason
	Attempts []Attempt
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("no comparable sales found: %s (%d sources tried)", e.Reason, len(e.Attempts))
}

// Attempt records what happened at one source.
type Attempt struct {
	Source  string           `json:"source"`
	Tag     models.SourceTag `json:"tag"`
	Kept    int              `json:"kept"`
	Dropped int              `json:"dropped"`
	Error   string           `json:"error,omitempty"`
	Reason  NoResultsReason  `json:"reason,omitempty"`
}
