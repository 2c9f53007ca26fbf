package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookValidation lets Buttondown check that the URL is reachable
func (h *Handlers) WebhookValidation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Buttondown webhook endpoint is ready",
	})
}

// ReceiveWebhook stores one Buttondown webhook delivery
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookStatusResponse{Status: "error", Message: "Failed to read body"})
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), body, c.GetHeader(webhook.SignatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, webhook.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, WebhookStatusResponse{Status: "error", Message: "Invalid signature"})
	case errors.Is(err, webhook.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, WebhookStatusResponse{Status: "error", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, WebhookStatusResponse{Status: "error", Message: "Processing failed"})
	}
}

// WebhookHealth reports how many events arrived in the last 24 hours
func (h *Handlers) WebhookHealth(c *gin.Context) {
	since := time.Now().UTC().Add(-24 * time.Hour)

	total, err := h.repo.CountEventsSince(c.Request.Context(), since)
	if err != nil {
		logrus.Errorf("Failed to count recent events: %v", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count recent events",
			Code:    http.StatusServiceUnavailable,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"events_24h":   total,
		"period_hours": 24,
	})
}
