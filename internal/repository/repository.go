package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"engagement-tracker-go/internal/model"
)

// ErrDuplicateEvent is returned when an event id is already stored
var ErrDuplicateEvent = errors.New("event already recorded")

// Repository is the event store. A Repository obtained from Transaction is
// bound to that transaction.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn inside a database transaction. Returning an error from
// fn rolls back every write made through tx.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// DB exposes the underlying handle for migrations and tests
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Events

func (r *Repository) FindEventByEventID(ctx context.Context, eventID string) (*model.Event, error) {
	var event model.Event
	result := r.db.WithContext(ctx).Where(&model.Event{EventID: eventID}).First(&event)
	if result.Error == nil {
		return &event, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error looking up event: %w", result.Error)
}

// CreateEvent inserts an event. A unique violation on event_id is reported as
// ErrDuplicateEvent.
func (r *Repository) CreateEvent(ctx context.Context, event *model.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", event.EventID, ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *Repository) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Event{}).Where("created_at >= ?", since.UTC()).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (r *Repository) CountAllEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Event{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Subscribers

func (r *Repository) FindSubscriberByID(ctx context.Context, id uint) (*model.Subscriber, error) {
	return r.findSubscriber(ctx, &model.Subscriber{ID: id})
}

func (r *Repository) FindSubscriberByProviderID(ctx context.Context, providerID string) (*model.Subscriber, error) {
	return r.findSubscriber(ctx, &model.Subscriber{ButtondownID: providerID})
}

func (r *Repository) FindSubscriberByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	return r.findSubscriber(ctx, &model.Subscriber{Email: email})
}

func (r *Repository) findSubscriber(ctx context.Context, cond *model.Subscriber) (*model.Subscriber, error) {
	var subscriber model.Subscriber
	result := r.db.WithContext(ctx).Where(cond).First(&subscriber)
	if result.Error == nil {
		return &subscriber, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error looking up subscriber: %w", result.Error)
}

func (r *Repository) CreateSubscriber(ctx context.Context, subscriber *model.Subscriber) error {
	if subscriber.SubscriptionDate.IsZero() {
		subscriber.SubscriptionDate = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(subscriber).Error; err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

func (r *Repository) SaveSubscriber(ctx context.Context, subscriber *model.Subscriber) error {
	if err := r.db.WithContext(ctx).Save(subscriber).Error; err != nil {
		return fmt.Errorf("failed to save subscriber: %w", err)
	}
	return nil
}

func (r *Repository) CountSubscribers(ctx context.Context, status model.SubscriberStatus) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.Subscriber{})
	if status != "" {
		query = query.Where(&model.Subscriber{Status: status})
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return count, nil
}

// DeleteSubscriber removes a subscriber. Tag links are deleted, events are
// kept with their subscriber reference cleared.
func (r *Repository) DeleteSubscriber(ctx context.Context, id uint) error {
	return r.Transaction(ctx, func(tx *Repository) error {
		if err := tx.db.Where(&model.SubscriberTag{SubscriberID: id}).Delete(&model.SubscriberTag{}).Error; err != nil {
			return fmt.Errorf("failed to delete subscriber tags: %w", err)
		}
		if err := tx.db.Model(&model.Event{}).Where("subscriber_id = ?", id).Update("subscriber_id", nil).Error; err != nil {
			return fmt.Errorf("failed to detach subscriber events: %w", err)
		}
		result := tx.db.Delete(&model.Subscriber{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete subscriber: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Tags

// TagSubscriber links a subscriber to the named tag, creating the tag when
// needed. Existing links are left alone.
func (r *Repository) TagSubscriber(ctx context.Context, subscriberID uint, name string) error {
	db := r.db.WithContext(ctx)

	var tag model.Tag
	if err := db.Where(model.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
		return fmt.Errorf("failed to resolve tag %q: %w", name, err)
	}

	link := model.SubscriberTag{SubscriberID: subscriberID, TagID: tag.ID}
	if err := db.Where(link).FirstOrCreate(&link).Error; err != nil {
		return fmt.Errorf("failed to tag subscriber: %w", err)
	}
	return nil
}

func (r *Repository) SubscriberTagNames(ctx context.Context, subscriberID uint) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&model.Tag{}).
		Joins("JOIN subscriber_tags ON subscriber_tags.tag_id = tags.id").
		Where("subscriber_tags.subscriber_id = ?", subscriberID).
		Order("tags.name").
		Pluck("tags.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriber tags: %w", err)
	}
	return names, nil
}

// Sync state

func (r *Repository) GetSyncState(ctx context.Context, key string) (*model.SyncState, error) {
	var state model.SyncState
	result := r.db.WithContext(ctx).Where(&model.SyncState{Key: key}).First(&state)
	if result.Error == nil {
		return &state, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error loading sync state: %w", result.Error)
}

// GetOrCreateSyncState returns the cursor row for key, inserting an empty one
// on first use.
func (r *Repository) GetOrCreateSyncState(ctx context.Context, key string) (*model.SyncState, error) {
	state, err := r.GetSyncState(ctx, key)
	if err != nil || state != nil {
		return state, err
	}

	state = &model.SyncState{Key: key}
	if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
		if !IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create sync state: %w", err)
		}
		// Another run created it first.
		return r.GetSyncState(ctx, key)
	}
	return state, nil
}

// AdvanceWatermark moves last_synced_at forward to ts. It never moves the
// watermark backwards and reports whether a row changed.
func (r *Repository) AdvanceWatermark(ctx context.Context, key string, ts time.Time) (bool, error) {
	ts = ts.UTC()
	result := r.db.WithContext(ctx).
		Model(&model.SyncState{}).
		Where(&model.SyncState{Key: key}).
		Where("last_synced_at IS NULL OR last_synced_at < ?", ts).
		Updates(map[string]any{"last_synced_at": ts, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance watermark: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
