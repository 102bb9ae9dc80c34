package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"compvalue/server/internal/database"
	"compvalue/server/internal/merge"
	"compvalue/server/internal/models"
	"compvalue/server/internal/recorder"
)

// AddManualComp stores a submitted comp link and drops the subject's cached
// comps so the next lookup merges it.
func (h *Handler) AddManualComp(c *gin.Context) {
	var sub models.ManualCompSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		h.logger.WithError(err).Error("Failed to parse manual comp")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}
	subjectID := strings.TrimSpace(sub.PropertyID)
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_id is required"})
		return
	}

	comp := merge.FromSubmission(subjectID, sub)
	if err := h.ManualComps.Add(c.Request.Context(), &comp); err != nil {
		h.logger.WithError(err).Error("Failed to save manual comp")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save manual comp"})
		return
	}
	h.clearSubject(c, subjectID)

	c.JSON(http.StatusCreated, comp)
}

func (h *Handler) ListManualComps(c *gin.Context) {
	list, err := h.ManualComps.ListBySubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list manual comps")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list manual comps"})
		return
	}
	if list == nil {
		list = []models.ManualComp{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) DeleteManualComp(c *gin.Context) {
	ctx := c.Request.Context()
	comp, err := h.ManualComps.Get(ctx, c.Param("id"))
	if errors.Is(err, database.ErrManualCompNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Manual comp not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get manual comp")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete manual comp"})
		return
	}

	if err := h.ManualComps.Delete(ctx, comp.ID); err != nil {
		h.logger.WithError(err).Error("Failed to delete manual comp")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete manual comp"})
		return
	}
	h.clearSubject(c, comp.SubjectID)

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": comp.ID})
}

// clearSubject is best effort: a stale merged set only lasts until the TTL.
func (h *Handler) clearSubject(c *gin.Context, subjectID string) {
	if err := h.Valuations.Clear(c.Request.Context(), subjectID, nil); err != nil {
		h.logger.WithError(err).WithField("subject", subjectID).Warn("Failed to clear cached comps")
	}
}

func (h *Handler) SaveAnalysis(c *gin.Context) {
	var rec models.AnalysisRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		h.logger.WithError(err).Error("Failed to parse analysis")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	err := h.Analyses.Save(c.Request.Context(), &rec)
	if errors.Is(err, recorder.ErrMissingSubject) || errors.Is(err, recorder.ErrMissingActor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to save analysis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save analysis"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListAnalyses(c *gin.Context) {
	list, err := h.Analyses.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list analyses")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list analyses"})
		return
	}
	if list == nil {
		list = []models.AnalysisRecord{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetAnalysis(c *gin.Context) {
	rec, err := h.Analyses.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, recorder.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get analysis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get analysis"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteAnalysis(c *gin.Context) {
	err := h.Analyses.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, recorder.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete analysis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete analysis"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
