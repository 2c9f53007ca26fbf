package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/repository"
	"engagement-tracker-go/internal/scheduler"
	"engagement-tracker-go/internal/syncer"
	"engagement-tracker-go/internal/webhook"
)

const (
	serviceName    = "Buttondown Engagement Tracker"
	serviceVersion = "1.0.0"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	repo      *repository.Repository
	ingestor  *webhook.Ingestor
	syncer    *syncer.Synchronizer
	scheduler *scheduler.Scheduler
	metrics   http.Handler
}

// NewHandlers creates new HTTP handlers. gatherer backs /metrics.
func NewHandlers(repo *repository.Repository, ingestor *webhook.Ingestor, s *syncer.Synchronizer, sched *scheduler.Scheduler, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		repo:      repo,
		ingestor:  ingestor,
		syncer:    s,
		scheduler: sched,
		metrics:   promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/", h.Root)
	router.GET("/health", h.Liveness)
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.metrics))

	webhooks := router.Group("/webhooks")
	{
		webhooks.GET("/buttondown", h.WebhookValidation)
		webhooks.POST("/buttondown", h.ReceiveWebhook)
		webhooks.GET("/health", h.WebhookHealth)
	}

	api := router.Group("/api")
	{
		api.POST("/sync/events", h.SyncEvents)
		api.GET("/sync/events/state", h.GetSyncState)

		api.GET("/dashboard/stats", h.GetDashboardStats)
		api.GET("/dashboard/subscribers/top", h.GetTopSubscribers)
		api.GET("/dashboard/trends", h.GetEngagementTrends)
		api.GET("/dashboard/subscribers/:id/events", h.GetSubscriberEvents)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// Root describes the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Liveness answers without touching dependencies
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.repo.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}
	if last := h.scheduler.GetLastRun(); !last.IsZero() {
		response.Metrics["last_run"] = last.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
