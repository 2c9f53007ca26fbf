package repository

import (
	"context"
	"fmt"
	"time"

	"engagement-tracker-go/internal/model"
)

const (
	EventTypeOpened  = "subscriber.opened"
	EventTypeClicked = "subscriber.clicked"
)

// SubscriberEngagement is one row of the top-subscribers ranking
type SubscriberEngagement struct {
	SubscriberID uint    `json:"subscriber_id"`
	Email        string  `json:"email"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	Opens        int64   `json:"total_opens"`
	Clicks       int64   `json:"total_clicks"`
}

func (r *Repository) CountEventsBetween(ctx context.Context, eventType string, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Event{}).
		Where("event_type = ? AND created_at >= ? AND created_at <= ?", eventType, start.UTC(), end.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", eventType, err)
	}
	return count, nil
}

func (r *Repository) CountEngagedSubscribers(ctx context.Context, eventTypes []string, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Event{}).
		Where("event_type IN ? AND created_at >= ? AND created_at <= ? AND subscriber_id IS NOT NULL", eventTypes, start.UTC(), end.UTC()).
		Distinct("subscriber_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count engaged subscribers: %w", err)
	}
	return count, nil
}

// TopSubscribers ranks subscribers by opens, clicks or both ("total").
func (r *Repository) TopSubscribers(ctx context.Context, metric string, limit int) ([]SubscriberEngagement, error) {
	var order string
	switch metric {
	case "opens":
		order = "opens DESC"
	case "clicks":
		order = "clicks DESC"
	case "total":
		order = "SUM(CASE WHEN events.event_type IN ('subscriber.opened', 'subscriber.clicked') THEN 1 ELSE 0 END) DESC"
	default:
		return nil, fmt.Errorf("unsupported metric %q", metric)
	}

	var rows []SubscriberEngagement
	err := r.db.WithContext(ctx).
		Table("subscribers").
		Select(`subscribers.id AS subscriber_id, subscribers.email, subscribers.first_name, subscribers.last_name,
			COALESCE(SUM(CASE WHEN events.event_type = ? THEN 1 ELSE 0 END), 0) AS opens,
			COALESCE(SUM(CASE WHEN events.event_type = ? THEN 1 ELSE 0 END), 0) AS clicks`, EventTypeOpened, EventTypeClicked).
		Joins("LEFT JOIN events ON events.subscriber_id = subscribers.id").
		Group("subscribers.id, subscribers.email, subscribers.first_name, subscribers.last_name").
		Order(order).
		Order("subscribers.id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank subscribers: %w", err)
	}
	return rows, nil
}

// EventsSince returns the type and time of matching events, oldest first.
func (r *Repository) EventsSince(ctx context.Context, eventTypes []string, start time.Time) ([]model.Event, error) {
	var events []model.Event
	err := r.db.WithContext(ctx).
		Select("id", "event_type", "created_at").
		Where("event_type IN ? AND created_at >= ?", eventTypes, start.UTC()).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

func (r *Repository) SubscriberEvents(ctx context.Context, subscriberID uint, limit int) ([]model.Event, error) {
	var events []model.Event
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber events: %w", err)
	}
	return events, nil
}
