package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/ingest"
	"engagement-tracker-go/internal/metrics"
	"engagement-tracker-go/internal/model"
	"engagement-tracker-go/internal/repository"
)

// StateKey identifies the cursor row of the Buttondown event feed
const StateKey = "buttondown_events"

// DefaultLookbackDays is used for a first run when nothing is configured
const DefaultLookbackDays = 30

// ErrSyncInProgress is returned when a sync is already running in this process
var ErrSyncInProgress = errors.New("sync already in progress")

// Outcome summarizes one sync run
type Outcome struct {
	EventsCreated      int        `json:"events_created"`
	EventsSkipped      int        `json:"events_skipped"`
	SubscribersCreated int        `json:"subscribers_created"`
	SubscribersUpdated int        `json:"subscribers_updated"`
	RequestedSince     *time.Time `json:"requested_since"`
	EffectiveSince     *time.Time `json:"effective_since"`
	LatestEventAt      *time.Time `json:"latest_event_at"`
	LastSyncedAt       *time.Time `json:"last_synced_at"`
}

// Synchronizer pulls the Buttondown event feed into the local store
type Synchronizer struct {
	repo         *repository.Repository
	client       *buttondown.Client
	metrics      *metrics.Metrics
	lookbackDays int
	now          func() time.Time
	mu           sync.Mutex
}

// New creates a synchronizer. client may be nil when no API key is
// configured, in which case Sync returns buttondown.ErrNotConfigured.
func New(repo *repository.Repository, client *buttondown.Client, lookbackDays int, m *metrics.Metrics) *Synchronizer {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Synchronizer{
		repo:         repo,
		client:       client,
		metrics:      m,
		lookbackDays: lookbackDays,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// LookbackDays is the window used for a first run
func (s *Synchronizer) LookbackDays() int {
	return s.lookbackDays
}

// State returns the persisted cursor, or nil before the first run
func (s *Synchronizer) State(ctx context.Context) (*model.SyncState, error) {
	return s.repo.GetSyncState(ctx, StateKey)
}

// Sync ingests every event newer than the window start. since overrides the
// persisted watermark when set. The watermark only moves after the batch has
// been committed, so a failed run can be retried from the same point.
func (s *Synchronizer) Sync(ctx context.Context, since *time.Time) (*Outcome, error) {
	if s.client == nil {
		return nil, buttondown.ErrNotConfigured
	}
	if !s.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	started := time.Now()
	outcome, err := s.run(ctx, since)
	s.metrics.SyncDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		s.metrics.SyncRuns.WithLabelValues("success").Inc()
	case buttondown.IsProviderError(err):
		s.metrics.SyncRuns.WithLabelValues("provider_error").Inc()
	default:
		s.metrics.SyncRuns.WithLabelValues("error").Inc()
	}
	return outcome, err
}

func (s *Synchronizer) run(ctx context.Context, since *time.Time) (*Outcome, error) {
	state, err := s.repo.GetOrCreateSyncState(ctx, StateKey)
	if err != nil {
		return nil, err
	}

	effective := s.windowStart(state.LastSyncedAt, since)
	outcome := &Outcome{
		RequestedSince: utcPtr(since),
		EffectiveSince: &effective,
	}

	logrus.WithFields(logrus.Fields{
		"requested_since": outcome.RequestedSince,
		"effective_since": effective,
	}).Info("Starting Buttondown sync")

	records, err := s.fetch(ctx, effective)
	if err != nil {
		logrus.WithError(err).Error("Buttondown sync aborted while fetching events")
		return nil, err
	}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		for _, record := range records {
			ts, hasTS := record.CreatedAt()
			if err := s.persist(ctx, tx, record, ts, hasTS, outcome); err != nil {
				return err
			}
			if hasTS && (outcome.LatestEventAt == nil || ts.After(*outcome.LatestEventAt)) {
				latest := ts
				outcome.LatestEventAt = &latest
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("Buttondown sync rolled back")
		return nil, err
	}

	s.metrics.EventsIngested.WithLabelValues(metrics.PathSync, "created").Add(float64(outcome.EventsCreated))
	s.metrics.EventsIngested.WithLabelValues(metrics.PathSync, "skipped").Add(float64(outcome.EventsSkipped))

	if latest := outcome.LatestEventAt; latest != nil && (state.LastSyncedAt == nil || latest.After(*state.LastSyncedAt)) {
		if _, err := s.repo.AdvanceWatermark(ctx, StateKey, *latest); err != nil {
			return nil, err
		}
	}

	state, err = s.repo.GetSyncState(ctx, StateKey)
	if err != nil {
		return nil, err
	}
	if state != nil && state.LastSyncedAt != nil {
		watermark := state.LastSyncedAt.UTC()
		outcome.LastSyncedAt = &watermark
		s.metrics.Watermark.Set(float64(watermark.Unix()))
	}

	logrus.WithFields(logrus.Fields{
		"events_created":      outcome.EventsCreated,
		"events_skipped":      outcome.EventsSkipped,
		"subscribers_created": outcome.SubscribersCreated,
		"subscribers_updated": outcome.SubscribersUpdated,
		"latest_event_at":     outcome.LatestEventAt,
		"last_synced_at":      outcome.LastSyncedAt,
	}).Info("Completed Buttondown sync")

	return outcome, nil
}

// fetch drains the event stream. Records at or before start are dropped, which
// covers the case where the client fell back to unfiltered paging.
func (s *Synchronizer) fetch(ctx context.Context, start time.Time) ([]buttondown.RawEvent, error) {
	stream := s.client.IterEvents(buttondown.EventQuery{
		Since:    &start,
		Expand:   []string{"subscriber", "email"},
		Ordering: "creation_date",
	})

	var records []buttondown.RawEvent
	for stream.HasMore() {
		batch, err := stream.NextBatch(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range batch {
			if ts, ok := record.CreatedAt(); ok && !ts.After(start) {
				continue
			}
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *Synchronizer) persist(ctx context.Context, tx *repository.Repository, record buttondown.RawEvent, ts time.Time, hasTS bool, outcome *Outcome) error {
	eventID := recordID(record)
	if eventID == "" {
		logrus.WithField("event_type", record.String("event_type")).Warn("Skipping event with no id")
		outcome.EventsSkipped++
		return nil
	}

	existing, err := tx.FindEventByEventID(ctx, eventID)
	if err != nil {
		return err
	}
	if existing != nil {
		outcome.EventsSkipped++
		return nil
	}

	eventType := ingest.NormalizeEventType(record.String("event_type"))
	input, tags := subscriberInput(record)

	subscriber, flags, err := ingest.UpsertSubscriber(ctx, tx, input, eventType)
	if err != nil {
		return fmt.Errorf("event %s: %w", eventID, err)
	}
	if err := ingest.ApplyTags(ctx, tx, subscriber, tags); err != nil {
		return fmt.Errorf("event %s: %w", eventID, err)
	}

	metadata, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("event %s: failed to encode metadata: %w", eventID, err)
	}

	event := &model.Event{
		EventID:   eventID,
		EventType: eventType,
		EmailID:   emailID(record),
		LinkURL:   extractLink(record),
		Metadata:  datatypes.JSON(metadata),
	}
	if hasTS {
		event.CreatedAt = ts
	}
	if subscriber != nil {
		event.SubscriberID = &subscriber.ID
	}
	if err := tx.CreateEvent(ctx, event); err != nil {
		return err
	}

	outcome.EventsCreated++
	if flags.Created {
		outcome.SubscribersCreated++
	}
	if flags.Updated {
		outcome.SubscribersUpdated++
	}
	return nil
}

func (s *Synchronizer) windowStart(watermark, requested *time.Time) time.Time {
	if requested != nil {
		return requested.UTC()
	}
	if watermark != nil {
		return watermark.UTC()
	}
	return s.now().AddDate(0, 0, -s.lookbackDays)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
