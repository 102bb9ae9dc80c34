package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"compvalue/server/internal/cache"
	"compvalue/server/internal/comps"
	"compvalue/server/internal/models"
	"compvalue/server/internal/sources"
	"compvalue/server/internal/valuation"
)

// Valuations is the valuation engine as seen by the HTTP layer.
type Valuations interface {
	Lookup(ctx context.Context, req models.LookupRequest) (*valuation.Response, error)
	Estimate(ctx context.Context, req models.LookupRequest, cfg models.FilterConfig) (*valuation.Response, error)
	Refresh(ctx context.Context, req models.LookupRequest) (*valuation.Response, error)
	Clear(ctx context.Context, subjectID string, radiusMiles *float64) error
	GeoJSON(ctx context.Context, subjectID string, radiusMiles float64) (*geojson.FeatureCollection, error)
}

type ManualComps interface {
	Add(ctx context.Context, comp *models.ManualComp) error
	ListBySubject(ctx context.Context, subjectID string) ([]models.ManualComp, error)
	Get(ctx context.Context, id string) (*models.ManualComp, error)
	Delete(ctx context.Context, id string) error
}

type Analyses interface {
	Save(ctx context.Context, rec *models.AnalysisRecord) error
	List(ctx context.Context, subjectID string) ([]models.AnalysisRecord, error)
	Get(ctx context.Context, id string) (*models.AnalysisRecord, error)
	Delete(ctx context.Context, id string) error
}

type Progress interface {
	Events(subjectID string) []models.ProgressEvent
}

// Sales is the public-record sales table.
type Sales interface {
	InsertSales(ctx context.Context, sales []comps.PublicRecord) error
}

type Backfiller interface {
	BackfillCoordinates(ctx context.Context) error
}

// Deps holds what the handlers serve. Sales, Backfill and Progress may be
// nil; their routes then answer 503.
type Deps struct {
	Valuations  Valuations
	ManualComps ManualComps
	Analyses    Analyses
	Progress    Progress
	Sales       Sales
	Backfill    Backfiller
}

type Handler struct {
	Deps
	logger *logrus.Logger
}

// EstimateRequest is a lookup plus the filter applied to its comps.
type EstimateRequest struct {
	models.LookupRequest
	Filter models.FilterConfig `json:"filter"`
}

func NewHandler(deps Deps, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{Deps: deps, logger: logger}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) LookupComps(c *gin.Context) {
	var req models.LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse lookup request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	resp, err := h.Valuations.Lookup(c.Request.Context(), req)
	h.respond(c, resp, err)
}

func (h *Handler) EstimateValue(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse estimate request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	resp, err := h.Valuations.Estimate(c.Request.Context(), req.LookupRequest, req.Filter)
	h.respond(c, resp, err)
}

// RefreshComps refetches a subject. The body is optional; the path id wins
// over any subject_id in it.
func (h *Handler) RefreshComps(c *gin.Context) {
	var req models.LookupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.WithError(err).Error("Failed to parse refresh request")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
			return
		}
	}
	req.SubjectID = c.Param("subject_id")
	if radius, ok := queryFloat(c, "radius"); ok {
		req.RadiusMiles = radius
	}

	resp, err := h.Valuations.Refresh(c.Request.Context(), req)
	h.respond(c, resp, err)
}

func (h *Handler) ClearCache(c *gin.Context) {
	subjectID := c.Param("subject_id")
	var radius *float64
	if r, ok := queryFloat(c, "radius"); ok {
		radius = &r
	}

	if err := h.Valuations.Clear(c.Request.Context(), subjectID, radius); err != nil {
		h.logger.WithError(err).WithField("subject", subjectID).Error("Failed to clear cache")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "subject_id": subjectID})
}

func (h *Handler) GetCompsGeoJSON(c *gin.Context) {
	radius, _ := queryFloat(c, "radius")
	fc, err := h.Valuations.GeoJSON(c.Request.Context(), c.Param("subject_id"), radius)
	if errors.Is(err, valuation.ErrNotCached) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No cached comps for subject"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to render comps")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render comps"})
		return
	}
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) GetProgress(c *gin.Context) {
	if h.Progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Progress tracking is disabled"})
		return
	}
	events := h.Progress.Events(c.Param("id"))
	if events == nil {
		events = []models.ProgressEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) ImportSales(c *gin.Context) {
	if h.Sales == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sales import is disabled"})
		return
	}
	var sales []comps.PublicRecord
	if err := c.ShouldBindJSON(&sales); err != nil {
		h.logger.WithError(err).Error("Failed to parse sales")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}
	if err := h.Sales.InsertSales(c.Request.Context(), sales); err != nil {
		h.logger.WithError(err).Error("Failed to import sales")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to import sales"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "imported", "count": len(sales)})
}

// UpdateCoordinates starts a background geocode of imported sales.
func (h *Handler) UpdateCoordinates(c *gin.Context) {
	if h.Backfill == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}
	go func() {
		if err := h.Backfill.BackfillCoordinates(context.Background()); err != nil {
			h.logger.WithError(err).Error("Failed to update coordinates")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "Coordinates update process started"})
}

// respond maps a valuation result to a status: 200 for success and degraded
// results, 404 when no source had sales, 502 when sources failed.
func (h *Handler) respond(c *gin.Context, resp *valuation.Response, err error) {
	if err != nil {
		switch {
		case errors.Is(err, valuation.ErrMissingAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, cache.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is shutting down"})
		default:
			h.logger.WithError(err).Error("Failed to look up comparable sales")
			c.JSON(http.StatusBadGateway, gin.H{
				"outcome": valuation.OutcomeError,
				"error":   "Failed to fetch comparable sales",
			})
		}
		return
	}

	if resp.Outcome == valuation.OutcomeNoResults {
		if resp.Reason == sources.ReasonSourceError {
			c.JSON(http.StatusBadGateway, resp)
			return
		}
		c.JSON(http.StatusNotFound, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func queryFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
