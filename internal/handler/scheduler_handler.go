package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/syncer"
)

// StartScheduler starts the periodic sync
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the periodic sync
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs one sync through the scheduler
func (h *Handlers) RunOnce(c *gin.Context) {
	outcome, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			status = http.StatusConflict
		case errors.Is(err, buttondown.ErrNotConfigured):
			status = http.StatusServiceUnavailable
		case buttondown.IsProviderError(err):
			status = http.StatusBadGateway
		default:
			logrus.Errorf("Run-once sync failed: %v", err)
		}
		c.JSON(status, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to run sync",
			Code:    status,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sync completed successfully",
		"outcome": outcome,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}
