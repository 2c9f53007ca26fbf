package handler

import (
	"time"

	"engagement-tracker-go/internal/model"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WebhookStatusResponse is the body the webhook endpoint answers with on
// failures
type WebhookStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SyncStateResponse describes the persisted sync cursor
type SyncStateResponse struct {
	LastSyncedAt        *time.Time `json:"last_synced_at"`
	DefaultLookbackDays int        `json:"default_lookback_days"`
	PendingInitialSync  bool       `json:"pending_initial_sync"`
}

// DashboardStats holds the headline engagement numbers
type DashboardStats struct {
	TotalSubscribers  int64     `json:"total_subscribers"`
	ActiveSubscribers int64     `json:"active_subscribers"`
	TotalOpens        int64     `json:"total_opens"`
	TotalClicks       int64     `json:"total_clicks"`
	EngagementRate    float64   `json:"engagement_rate"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
}

// TopSubscriber is one entry of the engagement ranking
type TopSubscriber struct {
	SubscriberID    uint    `json:"subscriber_id"`
	Email           string  `json:"email"`
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	TotalOpens      int64   `json:"total_opens"`
	TotalClicks     int64   `json:"total_clicks"`
	TotalEngagement int64   `json:"total_engagement"`
}

// EngagementTrend is the daily open and click count
type EngagementTrend struct {
	Date   string `json:"date"`
	Opens  int64  `json:"opens"`
	Clicks int64  `json:"clicks"`
	Total  int64  `json:"total"`
}

// EventResponse is an event as returned by the dashboard
type EventResponse struct {
	ID           uint      `json:"id"`
	EventID      string    `json:"event_id"`
	SubscriberID *uint     `json:"subscriber_id"`
	EventType    string    `json:"event_type"`
	EmailID      *string   `json:"email_id"`
	LinkURL      *string   `json:"link_url"`
	CreatedAt    time.Time `json:"created_at"`
}

func newEventResponse(e model.Event) EventResponse {
	return EventResponse{
		ID:           e.ID,
		EventID:      e.EventID,
		SubscriberID: e.SubscriberID,
		EventType:    e.EventType,
		EmailID:      e.EmailID,
		LinkURL:      e.LinkURL,
		CreatedAt:    e.CreatedAt,
	}
}
