package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"compvalue/server/internal/comps"
	"compvalue/server/internal/models"
)

// APIConfig configures one HTTP valuation provider.
type APIConfig struct {
	Name    string           `json:"name"`
	BaseURL string           `json:"base_url"`
	APIKey  string           `json:"api_key"`
	Tag     models.SourceTag `json:"tag"`
	Timeout time.Duration    `json:"timeout"`
}

// APISource queries a JSON valuation API that returns the matched subject
// and its comparables.
type APISource struct {
	cfg    APIConfig
	client *http.Client
}

type apiResponse struct {
	SubjectProperty *struct {
		FormattedAddress string       `json:"formattedAddress"`
		SquareFootage    comps.Number `json:"squareFootage"`
		Bedrooms         comps.Number `json:"bedrooms"`
		Bathrooms        comps.Number `json:"bathrooms"`
		Latitude         comps.Number `json:"latitude"`
		Longitude        comps.Number `json:"longitude"`
	} `json:"subjectProperty"`
	Comparables []comps.APIRecord `json:"comparables"`
}

func NewAPISource(cfg APIConfig) *APISource {
	if cfg.Tag == "" {
		cfg.Tag = models.SourceAPIPrimary
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Tag)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &APISource{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (s *APISource) Name() string          { return s.cfg.Name }
func (s *APISource) Tag() models.SourceTag { return s.cfg.Tag }

func (s *APISource) Fetch(ctx context.Context, q Query) (Result, error) {
	params := url.Values{}
	params.Set("address", fullAddress(q))
	if q.RadiusMiles > 0 {
		params.Set("maxRadius", strconv.FormatFloat(q.RadiusMiles, 'f', 2, 64))
	}
	if q.MaxComps > 0 {
		params.Set("compCount", strconv.Itoa(q.MaxComps))
	}
	if q.PropertyType != "" {
		params.Set("propertyType", q.PropertyType)
	}
	if q.Latitude != nil && q.Longitude != nil {
		params.Set("latitude", strconv.FormatFloat(*q.Latitude, 'f', 6, 64))
		params.Set("longitude", strconv.FormatFloat(*q.Longitude, 'f', 6, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s request failed: %w", s.cfg.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, fmt.Errorf("%s: %w", s.cfg.Name, ErrAddressNotFound)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%s returned status %d", s.cfg.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse %s response: %w", s.cfg.Name, err)
	}

	res := Result{Records: make([]comps.RawRecord, 0, len(parsed.Comparables))}
	for _, c := range parsed.Comparables {
		res.Records = append(res.Records, c)
	}
	if sp := parsed.SubjectProperty; sp != nil {
		res.ResolvedAddress = sp.FormattedAddress
		res.Subject = &SubjectFacts{
			SquareFeet: sp.SquareFootage.Ptr(),
			Bedrooms:   sp.Bedrooms.IntPtr(),
			Bathrooms:  sp.Bathrooms.Ptr(),
			Latitude:   sp.Latitude.Ptr(),
			Longitude:  sp.Longitude.Ptr(),
		}
	}
	return res, nil
}

func fullAddress(q Query) string {
	return models.LookupRequest{Address: q.Address, City: q.City, State: q.State, ZipCode: q.ZipCode}.FullAddress()
}
