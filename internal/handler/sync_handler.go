package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/syncer"
)

// SyncEvents runs a polling sync on demand
func (h *Handlers) SyncEvents(c *gin.Context) {
	since, ok := parseTimeQuery(c, "since")
	if !ok {
		return
	}

	outcome, err := h.syncer.Sync(c.Request.Context(), since)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, outcome)
	case errors.Is(err, buttondown.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "not_configured",
			Message: "Buttondown API key not configured",
			Code:    http.StatusServiceUnavailable,
		})
	case errors.Is(err, syncer.ErrSyncInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "sync_in_progress",
			Message: "A sync is already running",
			Code:    http.StatusConflict,
		})
	case buttondown.IsProviderError(err):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "provider_error",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
	default:
		logrus.Errorf("Sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sync_error",
			Message: "Sync failed",
			Code:    http.StatusInternalServerError,
		})
	}
}

// GetSyncState returns the persisted watermark
func (h *Handlers) GetSyncState(c *gin.Context) {
	state, err := h.syncer.State(c.Request.Context())
	if err != nil {
		logrus.Errorf("Failed to load sync state: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load sync state",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := SyncStateResponse{
		DefaultLookbackDays: h.syncer.LookbackDays(),
		PendingInitialSync:  state == nil || state.LastSyncedAt == nil,
	}
	if state != nil {
		response.LastSyncedAt = state.LastSyncedAt
	}
	c.JSON(http.StatusOK, response)
}

// parseTimeQuery reads an optional ISO-8601 query parameter. On a bad value it
// writes the 400 response and returns ok=false.
func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	// An unescaped "+" offset arrives as a space.
	if strings.Contains(raw, "T") {
		raw = strings.ReplaceAll(raw, " ", "+")
	}

	ts, ok := buttondown.ParseTimestamp(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_" + name,
			Message: "Invalid " + name + " timestamp, expected ISO-8601",
			Code:    http.StatusBadRequest,
		})
		return nil, false
	}
	return &ts, true
}
