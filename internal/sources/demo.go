package sources

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"compvalue/server/internal/comps"
	"compvalue/server/internal/models"
)

const (
	demoDefaultPrice = 250000.0
	demoDefaultSqft  = 1500.0
	demoCount        = 5
)

// DemoSource produces deterministic synthetic comps around the base price.
// It is the last-resort fallback and its data is never treated as fresh.
type DemoSource struct {
	now func() time.Time
}

func NewDemoSource() *DemoSource {
	return &DemoSource{now: time.Now}
}

func (s *DemoSource) Name() string          { return "demo" }
func (s *DemoSource) Tag() models.SourceTag { return models.SourceDemo }

func (s *DemoSource) Fetch(ctx context.Context, q Query) (Result, error) {
	base := q.BasePrice
	if base <= 0 {
		base = demoDefaultPrice
	}

	h := fnv.New32a()
	h.Write([]byte(comps.NormalizeAddress(q.Address)))
	seed := h.Sum32()

	radius := q.RadiusMiles
	if radius <= 0 {
		radius = 1
	}

	n := demoCount
	if q.MaxComps > 0 && q.MaxComps < n {
		n = q.MaxComps
	}

	res := Result{Records: make([]comps.RawRecord, 0, n)}
	for i := 0; i < n; i++ {
		// spread of -10%..+10% in 5% steps, rotated by the address seed
		step := (int(seed%5) + i) % 5
		factor := 0.9 + 0.05*float64(step)
		sqft := demoDefaultSqft * (0.85 + 0.075*float64(step))
		soldAt := s.now().AddDate(0, -(i*2 + 1), 0)

		res.Records = append(res.Records, comps.APIRecord{
			ID:            fmt.Sprintf("demo-%08x-%d", seed, i),
			Address:       fmt.Sprintf("%d Sample St", 100+int(seed%800)+i*12),
			City:          q.City,
			State:         q.State,
			ZipCode:       q.ZipCode,
			PropertyType:  q.PropertyType,
			Price:         comps.NewNumber(float64(int(base*factor/1000)) * 1000),
			SquareFootage: comps.NewNumber(sqft),
			Bedrooms:      comps.NewNumber(float64(2 + step%3)),
			Bathrooms:     comps.NewNumber(1 + 0.5*float64(step%3)),
			Distance:      comps.NewNumber(radius * float64(i+1) / float64(n+1)),
			SoldDate:      soldAt.Format("2006-01-02"),
		})
	}
	return res, nil
}
