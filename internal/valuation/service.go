// Package valuation answers lookups for a subject property: it resolves the
// subject, runs the source aggregator behind the tiered cache, merges manual
// comps and produces the market analysis and AVM estimate.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"compvalue/server/internal/avm"
	"compvalue/server/internal/cache"
	"compvalue/server/internal/comps"
	"compvalue/server/internal/filter"
	"compvalue/server/internal/geometry"
	"compvalue/server/internal/merge"
	"compvalue/server/internal/models"
	"compvalue/server/internal/similarity"
	"compvalue/server/internal/sources"
)

var (
	ErrMissingAddress = errors.New("subject address is required")
	ErrNotCached      = errors.New("no cached comps for subject")
)

// Outcome tells callers which of the four result kinds they got.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeNoResults Outcome = "no_results"
	OutcomeError     Outcome = "error"
)

// Aggregator is the multi-source comp fetcher.
type Aggregator interface {
	Aggregate(ctx context.Context, q sources.Query, events chan<- models.ProgressEvent) (*sources.Outcome, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, street, city, state, zip string) (float64, float64, error)
}

// ManualComps lists the manual comps submitted for a subject.
type ManualComps interface {
	ListBySubject(ctx context.Context, subjectID string) ([]models.ManualComp, error)
}

// Events receives progress events of fetches.
type Events interface {
	Push(ev models.ProgressEvent) error
	Forward(ch <-chan models.ProgressEvent)
}

type Options struct {
	DefaultRadiusMiles float64
	DefaultMaxComps    int
	Weights            similarity.Weights
}

// Response is the answer to a lookup, estimate or refresh.
type Response struct {
	Outcome         Outcome                     `json:"outcome"`
	Reason          sources.NoResultsReason     `json:"reason,omitempty"`
	Error           string                      `json:"error,omitempty"`
	SubjectID       string                      `json:"subject_id"`
	RadiusMiles     float64                     `json:"radius_miles"`
	ResolvedAddress string                      `json:"resolved_address,omitempty"`
	Comps           []models.ComparableProperty `json:"comparables"`
	TotalComps      int                         `json:"total_comparables"`
	Analysis        *models.MarketAnalysis      `json:"analysis,omitempty"`
	Valuation       *models.Valuation           `json:"valuation,omitempty"`
	Dropped         int                         `json:"dropped"`
	Cached          bool                        `json:"cached"`
	Tier            cache.Tier                  `json:"tier,omitempty"`
	Attempts        []sources.Attempt           `json:"attempts,omitempty"`
	FetchedAt       *time.Time                  `json:"fetched_at,omitempty"`
}

// Service is the valuation engine.
type Service struct {
	cache    *cache.Service
	agg      Aggregator
	geocoder Geocoder
	manual   ManualComps
	events   Events
	scorer   *similarity.Scorer
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time
}

// NewService wires the engine. geocoder, manual and events may be nil.
func NewService(c *cache.Service, agg Aggregator, geocoder Geocoder, manual ManualComps, events Events, opts Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.DefaultRadiusMiles <= 0 {
		opts.DefaultRadiusMiles = 1
	}
	if opts.DefaultMaxComps <= 0 {
		opts.DefaultMaxComps = 10
	}
	return &Service{
		cache:    c,
		agg:      agg,
		geocoder: geocoder,
		manual:   manual,
		events:   events,
		scorer:   similarity.NewScorer(opts.Weights),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SubjectID returns the request's subject id, or the normalized full address
// when none was given.
func SubjectID(req models.LookupRequest) string {
	if id := strings.TrimSpace(req.SubjectID); id != "" {
		return id
	}
	return comps.NormalizeAddress(req.FullAddress())
}

func (s *Service) radius(req models.LookupRequest) float64 {
	if req.RadiusMiles > 0 {
		return req.RadiusMiles
	}
	return s.opts.DefaultRadiusMiles
}

// Lookup returns the comps and analysis for the subject, from cache when
// fresh. ForceRefresh skips the cache tiers.
func (s *Service) Lookup(ctx context.Context, req models.LookupRequest) (*Response, error) {
	return s.run(ctx, req, nil, req.ForceRefresh)
}

// Estimate is Lookup followed by filtering the comp set; analysis and
// valuation are recomputed over the active comps only.
func (s *Service) Estimate(ctx context.Context, req models.LookupRequest, cfg models.FilterConfig) (*Response, error) {
	return s.run(ctx, req, &cfg, req.ForceRefresh)
}

// Refresh fetches the subject again regardless of cache state.
func (s *Service) Refresh(ctx context.Context, req models.LookupRequest) (*Response, error) {
	return s.run(ctx, req, nil, true)
}

// Clear evicts the subject's cached comps. A nil radius clears every radius.
func (s *Service) Clear(ctx context.Context, subjectID string, radiusMiles *float64) error {
	if radiusMiles == nil {
		return s.cache.ClearSubject(ctx, subjectID)
	}
	return s.cache.Clear(ctx, cache.NewKey(subjectID, *radiusMiles))
}

// GeoJSON renders the cached comp set of a subject from either tier. It
// never fetches.
func (s *Service) GeoJSON(ctx context.Context, subjectID string, radiusMiles float64) (*geojson.FeatureCollection, error) {
	if radiusMiles <= 0 {
		radiusMiles = s.opts.DefaultRadiusMiles
	}
	entry, ok := s.cache.Lookup(ctx, cache.NewKey(subjectID, radiusMiles))
	if !ok {
		return nil, ErrNotCached
	}
	return geometry.CompsFeatureCollection(entry.Subject, entry.Comps), nil
}

func (s *Service) run(ctx context.Context, req models.LookupRequest, cfg *models.FilterConfig, refresh bool) (*Response, error) {
	if strings.TrimSpace(req.Address) == "" && strings.TrimSpace(req.SubjectID) == "" {
		return nil, ErrMissingAddress
	}

	subject := req.Subject()
	subject.ID = SubjectID(req)
	radius := s.radius(req)
	key := cache.NewKey(subject.ID, radius)

	// A bare subject id reuses the address of the cached entry.
	if strings.TrimSpace(subject.Address) == "" {
		entry, ok := s.cache.Lookup(ctx, key)
		if !ok {
			return nil, ErrMissingAddress
		}
		subject = withFacts(subject, entry.Subject)
		subject.Address = entry.Subject.Address
		subject.City = entry.Subject.City
		subject.State = entry.Subject.State
		subject.ZipCode = entry.Subject.ZipCode
	}
	maxComps := req.MaxComps
	if maxComps <= 0 {
		maxComps = s.opts.DefaultMaxComps
	}

	resp := &Response{SubjectID: subject.ID, RadiusMiles: key.RadiusMiles}
	fetch := s.fetchFunc(subject, key.RadiusMiles, maxComps)

	var res cache.Result
	var err error
	if refresh {
		res, err = s.cache.Refresh(ctx, key, fetch)
	} else {
		res, err = s.cache.Get(ctx, key, fetch)
	}
	if err != nil {
		var nre *sources.NoResultsError
		if errors.As(err, &nre) {
			resp.Outcome = OutcomeNoResults
			resp.Reason = nre.Reason
			resp.Attempts = nre.Attempts
			resp.Error = err.Error()
			resp.Comps = []models.ComparableProperty{}
			return resp, nil
		}
		return nil, fmt.Errorf("failed to look up comps for %s: %w", subject.ID, err)
	}

	entry := res.Entry
	subject = withFacts(subject, entry.Subject)

	active := entry.Comps
	if cfg != nil {
		active = filter.Apply(entry.Comps, *cfg, s.now())
	}

	// Recomputed per call: the caller's offer and subject facts may differ
	// from the ones the entry was fetched with.
	analysis := avm.Analyze(active, subject)
	val := avm.Estimate(active, subject)

	resp.ResolvedAddress = entry.ResolvedAddress
	resp.Comps = active
	if resp.Comps == nil {
		resp.Comps = []models.ComparableProperty{}
	}
	resp.TotalComps = len(entry.Comps)
	resp.Analysis = &analysis
	resp.Valuation = &val
	resp.Dropped = entry.Dropped
	resp.Tier = res.Tier
	resp.Cached = res.Tier != cache.TierFetch
	created := entry.CreatedAt
	resp.FetchedAt = &created

	resp.Outcome = OutcomeSuccess
	if analysis.IsDegraded || val.IsDegraded || entry.IsFallback() {
		resp.Outcome = OutcomeDegraded
	}
	return resp, nil
}

// fetchFunc builds the cache fetch for one subject and radius.
func (s *Service) fetchFunc(subject models.SubjectProperty, radiusMiles float64, maxComps int) cache.FetchFunc {
	return func(ctx context.Context) (*cache.Entry, error) {
		subject := s.locate(ctx, subject)
		q := sources.QueryFromSubject(subject, radiusMiles, maxComps)

		var auto []models.ComparableProperty
		entry := &cache.Entry{}

		out, aggErr := s.aggregate(ctx, q)
		if aggErr != nil {
			var nre *sources.NoResultsError
			if !errors.As(aggErr, &nre) {
				return nil, aggErr
			}
		} else {
			subject = withSourceFacts(subject, out.Subject)
			auto = out.Comps
			entry.ResolvedAddress = out.ResolvedAddress
			entry.Dropped = out.Dropped
		}

		manual := s.manualComps(ctx, subject.ID)
		merged := merge.Merge(auto, manual, subject)
		if len(merged.Comps) == 0 {
			// Only the aggregator error can leave nothing to merge.
			return nil, aggErr
		}
		entry.Dropped += merged.Rejected

		list := geometry.FillDistances(subject, merged.Comps)
		list = s.scorer.ScoreAll(subject, list)
		list, trimmed := similarity.Top(list, maxComps)

		entry.Subject = subject
		entry.Comps = list
		entry.Analysis = merged.Analysis
		entry.DataSource = merged.Analysis.DataSource

		s.push(models.ProgressEvent{
			Type:      models.EventMergeCompleted,
			SubjectID: subject.ID,
			Count:     len(list),
			At:        s.now(),
		})
		s.logger.WithFields(logrus.Fields{
			"subject":     subject.ID,
			"radius":      radiusMiles,
			"comps":       len(list),
			"manual":      len(manual),
			"duplicates":  merged.Duplicates,
			"trimmed":     trimmed,
			"data_source": entry.DataSource,
		}).Info("Fetched comparable sales")
		return entry, nil
	}
}

// aggregate runs the aggregator with its progress events forwarded to the
// event queue.
func (s *Service) aggregate(ctx context.Context, q sources.Query) (*sources.Outcome, error) {
	if s.events == nil {
		return s.agg.Aggregate(ctx, q, nil)
	}

	events := make(chan models.ProgressEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.events.Forward(events)
	}()

	out, err := s.agg.Aggregate(ctx, q, events)
	close(events)
	<-done
	return out, err
}

// locate geocodes the subject when its coordinates are unknown. Failure only
// costs distance-based features.
func (s *Service) locate(ctx context.Context, subject models.SubjectProperty) models.SubjectProperty {
	if subject.HasCoordinates() || s.geocoder == nil {
		return subject
	}
	lat, lon, err := s.geocoder.Geocode(ctx, subject.Address, subject.City, subject.State, subject.ZipCode)
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject.ID).Warn("Failed to geocode subject")
		return subject
	}
	subject.Latitude, subject.Longitude = &lat, &lon
	return subject
}

func (s *Service) manualComps(ctx context.Context, subjectID string) []models.ManualComp {
	if s.manual == nil {
		return nil
	}
	list, err := s.manual.ListBySubject(ctx, subjectID)
	if err != nil {
		s.logger.WithError(err).WithField("subject", subjectID).Error("Failed to load manual comps")
		return nil
	}
	return list
}

func (s *Service) push(ev models.ProgressEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Push(ev); err != nil {
		s.logger.WithError(err).Debug("Dropped progress event")
	}
}

// withSourceFacts fills attributes the caller left unknown from what a
// source reported about the subject.
func withSourceFacts(subject models.SubjectProperty, facts *sources.SubjectFacts) models.SubjectProperty {
	if facts == nil {
		return subject
	}
	if subject.SquareFeet == nil {
		subject.SquareFeet = facts.SquareFeet
	}
	if subject.Bedrooms == nil {
		subject.Bedrooms = facts.Bedrooms
	}
	if subject.Bathrooms == nil {
		subject.Bathrooms = facts.Bathrooms
	}
	if !subject.HasCoordinates() && facts.Latitude != nil && facts.Longitude != nil {
		subject.Latitude, subject.Longitude = facts.Latitude, facts.Longitude
	}
	return subject
}

// withFacts fills the caller's unknown attributes from the subject stored
// with a cache entry. Caller-supplied values always win.
func withFacts(subject, cached models.SubjectProperty) models.SubjectProperty {
	if subject.SquareFeet == nil {
		subject.SquareFeet = cached.SquareFeet
	}
	if subject.Bedrooms == nil {
		subject.Bedrooms = cached.Bedrooms
	}
	if subject.Bathrooms == nil {
		subject.Bathrooms = cached.Bathrooms
	}
	if !subject.HasCoordinates() {
		subject.Latitude, subject.Longitude = cached.Latitude, cached.Longitude
	}
	if subject.PropertyType == "" {
		subject.PropertyType = cached.PropertyType
	}
	if subject.EstimatedValue <= 0 {
		subject.EstimatedValue = cached.EstimatedValue
	}
	return subject
}
