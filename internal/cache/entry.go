// Package cache keeps comp lookups per (subject, radius) in two tiers: an
// in-memory map owned by a Service and a persisted Store behind it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"compvalue/server/internal/models"
)

var (
	ErrNotFound = errors.New("cache entry not found")
	ErrClosed   = errors.New("cache service is closed")
)

// Key identifies a cache entry. Radius is rounded to two decimals so that
// 1, 1.0 and 1.001 address the same entry.
type Key struct {
	SubjectID   string
	RadiusMiles float64
}

func NewKey(subjectID string, radiusMiles float64) Key {
	return Key{SubjectID: subjectID, RadiusMiles: math.Round(radiusMiles*100) / 100}
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%.2f", k.SubjectID, k.RadiusMiles)
}

// Entry is one cached lookup result.
type Entry struct {
	Key Key `json:"key"`
	// Subject is the subject as resolved during the fetch, with geocoded
	// coordinates and source-reported facts filled in.
	Subject         models.SubjectProperty      `json:"subject"`
	ResolvedAddress string                      `json:"resolved_address,omitempty"`
	Comps           []models.ComparableProperty `json:"comparables"`
	Analysis        models.MarketAnalysis       `json:"analysis"`
	DataSource      models.DataSource           `json:"data_source"`
	Dropped         int                         `json:"dropped"`
	CreatedAt       time.Time                   `json:"created_at"`
	ExpiresAt       *time.Time                  `json:"expires_at,omitempty"`
	Stale           bool                        `json:"stale"`
}

// IsFallback reports whether the entry holds lowest-confidence data.
func (e *Entry) IsFallback() bool {
	if e.DataSource.IsFallback() {
		return true
	}
	for _, c := range e.Comps {
		if c.Source.IsFallback() {
			return true
		}
	}
	return false
}

// IsFresh reports whether entry may be served without a fetch at now.
// An entry with no ExpiresAt expires ttl after CreatedAt; a non-positive ttl
// then means it never expires.
func IsFresh(entry *Entry, now time.Time, ttl time.Duration) bool {
	if entry == nil || entry.Stale || entry.IsFallback() {
		return false
	}
	if entry.ExpiresAt != nil {
		return now.Before(*entry.ExpiresAt)
	}
	if ttl <= 0 {
		return true
	}
	return now.Before(entry.CreatedAt.Add(ttl))
}

// Store is the persisted tier. Get returns ErrNotFound when the key is
// absent. Put replaces any existing entry for the same key.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key Key) error
	DeleteSubject(ctx context.Context, subjectID string) error
}
