package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"compvalue/server/internal/comps"
	"compvalue/server/internal/models"
	"compvalue/server/internal/similarity"
)

type Options struct {
	// Timeout bounds each source call. Zero means 15s.
	Timeout time.Duration
	// Parallel queries every source at once; the winner is still picked in
	// priority order.
	Parallel bool
	// Blend concatenates every successful source in priority order instead
	// of stopping at the first.
	Blend bool
	// PriceLowFactor and PriceHighFactor bound comp prices relative to the
	// subject's base price. Ignored when either is zero or the base price is
	// unknown.
	PriceLowFactor  float64
	PriceHighFactor float64
}

// Outcome is the aggregated, normalized comp set.
type Outcome struct {
	Comps           []models.ComparableProperty
	Source          string
	Tag             models.SourceTag
	ResolvedAddress string
	Subject         *SubjectFacts
	Dropped         int
	Attempts        []Attempt
}

// Aggregator queries sources in priority order.
type Aggregator struct {
	sources []Source
	opts    Options
	logger  *logrus.Logger
}

func NewAggregator(sources []Source, opts Options, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Aggregator{sources: sources, opts: opts, logger: logger}
}

// Sources returns the configured sources in priority order.
func (a *Aggregator) Sources() []Source {
	return a.sources
}

type fetched struct {
	result Result
	err    error
}

// Aggregate returns the first usable result set, or every usable one when
// blending. events may be nil. It returns *NoResultsError when nothing
// usable came back.
func (a *Aggregator) Aggregate(ctx context.Context, q Query, events chan<- models.ProgressEvent) (*Outcome, error) {
	var prefetched []fetched
	if a.opts.Parallel {
		prefetched = a.fetchAll(ctx, q, events)
	}

	out := &Outcome{}
	// seen maps a sale to the index of the source that reported it first.
	seen := make(map[string]int)

	for i, src := range a.sources {
		var f fetched
		if prefetched != nil {
			f = prefetched[i]
		} else {
			emit(ctx, events, models.ProgressEvent{Type: models.EventSourceAttempted, SubjectID: q.SubjectID, Source: src.Name(), Tag: src.Tag()})
			f = a.fetchOne(ctx, src, q)
		}

		kept, attempt := a.evaluate(src, q, f)
		out.Attempts = append(out.Attempts, attempt)

		if attempt.Reason != "" {
			a.logger.WithFields(logrus.Fields{
				"source":  src.Name(),
				"subject": q.SubjectID,
				"reason":  attempt.Reason,
				"error":   attempt.Error,
			}).Warn("Source returned no usable comps")
			emit(ctx, events, models.ProgressEvent{Type: models.EventSourceFailed, SubjectID: q.SubjectID, Source: src.Name(), Tag: src.Tag(), Error: attempt.Error})
			continue
		}

		emit(ctx, events, models.ProgressEvent{Type: models.EventSourceSucceeded, SubjectID: q.SubjectID, Source: src.Name(), Tag: src.Tag(), Count: len(kept)})

		if out.Source == "" {
			out.Source = src.Name()
			out.Tag = src.Tag()
			out.ResolvedAddress = f.result.ResolvedAddress
		}
		if out.Subject == nil {
			out.Subject = f.result.Subject
		}
		out.Dropped += attempt.Dropped
		for _, c := range kept {
			// A repeat within one source is a distinct sale (a re-sale, or
			// the same date at another price) and is kept.
			id := saleKey(c)
			if first, ok := seen[id]; ok && first != i {
				out.Dropped++
				continue
			}
			seen[id] = i
			out.Comps = append(out.Comps, c)
		}

		if !a.opts.Blend {
			break
		}
	}

	if len(out.Comps) == 0 {
		return nil, &NoResultsError{Reason: classify(out.Attempts), Attempts: out.Attempts}
	}
	return out, nil
}

// saleKey identifies one sale across sources.
func saleKey(c models.ComparableProperty) string {
	date := ""
	if c.SaleDate != nil {
		date = c.SaleDate.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%s|%.0f", comps.NormalizeAddress(c.Address), date, c.SalePrice)
}

func (a *Aggregator) fetchOne(ctx context.Context, src Source, q Query) fetched {
	fctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	res, err := src.Fetch(fctx, q)
	return fetched{result: res, err: err}
}

func (a *Aggregator) fetchAll(ctx context.Context, q Query, events chan<- models.ProgressEvent) []fetched {
	results := make([]fetched, len(a.sources))
	var g errgroup.Group
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			emit(ctx, events, models.ProgressEvent{Type: models.EventSourceAttempted, SubjectID: q.SubjectID, Source: src.Name(), Tag: src.Tag()})
			results[i] = a.fetchOne(ctx, src, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// evaluate normalizes and bounds one source's answer. A non-empty Reason on
// the returned attempt means the source produced nothing usable.
func (a *Aggregator) evaluate(src Source, q Query, f fetched) ([]models.ComparableProperty, Attempt) {
	attempt := Attempt{Source: src.Name(), Tag: src.Tag()}

	if f.err != nil {
		attempt.Error = f.err.Error()
		if errors.Is(f.err, ErrAddressNotFound) {
			attempt.Reason = ReasonAddressNotFound
		} else {
			attempt.Reason = ReasonSourceError
		}
		return nil, attempt
	}

	if f.result.ResolvedAddress != "" && q.Address != "" {
		target := comps.NormalizeAddress(q.Address)
		resolved := comps.NormalizeAddress(f.result.ResolvedAddress)
		if _, _, ok := similarity.BestMatch(target, []string{resolved}); !ok {
			attempt.Error = "resolved address " + f.result.ResolvedAddress + " does not match"
			attempt.Reason = ReasonAddressNotFound
			return nil, attempt
		}
	}

	kept, dropped := comps.NormalizeAll(f.result.Records, src.Tag())
	kept, outOfBounds := a.bound(kept, q.BasePrice)
	attempt.Kept = len(kept)
	attempt.Dropped = dropped + outOfBounds

	if len(kept) == 0 {
		attempt.Reason = ReasonNoSalesInRadius
	}
	return kept, attempt
}

func (a *Aggregator) bound(in []models.ComparableProperty, basePrice float64) ([]models.ComparableProperty, int) {
	if basePrice <= 0 || a.opts.PriceLowFactor <= 0 || a.opts.PriceHighFactor <= 0 {
		return in, 0
	}
	low := basePrice * a.opts.PriceLowFactor
	high := basePrice * a.opts.PriceHighFactor

	out := make([]models.ComparableProperty, 0, len(in))
	for _, c := range in {
		if c.SalePrice >= low && c.SalePrice <= high {
			out = append(out, c)
		}
	}
	return out, len(in) - len(out)
}

// classify picks the reason reported when nothing usable came back. A source
// that knew the address but had no sales wins over one that did not know it.
func classify(attempts []Attempt) NoResultsReason {
	var notFound bool
	for _, at := range attempts {
		switch at.Reason {
		case ReasonNoSalesInRadius:
			return ReasonNoSalesInRadius
		case ReasonAddressNotFound:
			notFound = true
		}
	}
	if notFound {
		return ReasonAddressNotFound
	}
	return ReasonSourceError
}

func emit(ctx context.Context, events chan<- models.ProgressEvent, ev models.ProgressEvent) {
	if events == nil {
		return
	}
	ev.At = time.Now()
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
