package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/config"
	"engagement-tracker-go/internal/database"
	"engagement-tracker-go/internal/metrics"
	"engagement-tracker-go/internal/model"
	"engagement-tracker-go/internal/repository"
)

// feed is a fake /events endpoint serving a single page
type feed struct {
	mu      sync.Mutex
	records []map[string]any
	status  int
	queries []string
	arrived chan struct{}
	block   chan struct{}
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.block != nil {
		select {
		case f.arrived <- struct{}{}:
		default:
		}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, r.URL.RawQuery)
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": f.records, "next": nil})
}

func (f *feed) set(records ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

type fixture struct {
	sync    *Synchronizer
	repo    *repository.Repository
	feed    *feed
	metrics *metrics.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.InitDatabase(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &feed{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := buttondown.NewClient(config.ButtondownConfig{
		APIKey:         "test-key",
		APIBaseURL:     srv.URL,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	repo := repository.New(db)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return &fixture{sync: New(repo, client, 30, m), repo: repo, feed: f, metrics: m}
}

func openedEvent() map[string]any {
	return map[string]any{
		"id":            "evt-1",
		"event_type":    "email.opened",
		"creation_date": "2024-01-01T00:00:00Z",
		"subscriber_id": "sub-1",
		"subscriber":    map[string]any{"email_address": "a@example.com"},
	}
}

func TestSyncCreatesSubscriberAndEvent(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(openedEvent())

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)

	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, outcome.EventsCreated)
	assert.Equal(t, 0, outcome.EventsSkipped)
	assert.Equal(t, 1, outcome.SubscribersCreated)
	assert.Equal(t, 0, outcome.SubscribersUpdated)
	require.NotNil(t, outcome.LatestEventAt)
	assert.True(t, want.Equal(*outcome.LatestEventAt))
	require.NotNil(t, outcome.LastSyncedAt)
	assert.True(t, want.Equal(*outcome.LastSyncedAt))
	assert.True(t, since.Equal(*outcome.RequestedSince))
	assert.True(t, since.Equal(*outcome.EffectiveSince))

	sub, err := fx.repo.FindSubscriberByProviderID(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "a@example.com", sub.Email)
	assert.Equal(t, model.StatusActive, sub.Status)

	event, err := fx.repo.FindEventByEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "subscriber.opened", event.EventType)
	assert.True(t, want.Equal(event.CreatedAt))
	assert.Equal(t, sub.ID, *event.SubscriberID)

	state, err := fx.sync.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastSyncedAt)
	assert.True(t, want.Equal(*state.LastSyncedAt))

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SyncRuns.WithLabelValues("success")))
	assert.Equal(t, float64(want.Unix()), testutil.ToFloat64(fx.metrics.Watermark))
}

func TestSyncAdvancesToLatestTimestamp(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(
		map[string]any{"id": "evt-2", "event_type": "email.clicked", "creation_date": "2024-01-02T10:00:00Z", "subscriber_id": "sub-1", "metadata": map[string]any{"url": "https://example.com"}},
		map[string]any{"id": "evt-1", "event_type": "email.opened", "creation_date": "2024-01-02T09:00:00Z", "subscriber_id": "sub-1"},
	)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.EventsCreated)
	assert.Equal(t, 1, outcome.SubscribersCreated)
	assert.True(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC).Equal(*outcome.LastSyncedAt))

	clicked, err := fx.repo.FindEventByEventID(ctx, "evt-2")
	require.NoError(t, err)
	require.NotNil(t, clicked.LinkURL)
	assert.Equal(t, "https://example.com", *clicked.LinkURL)
}

func TestSyncRerunIsNoop(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(openedEvent())

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)

	again, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 0, again.EventsCreated)
	assert.Equal(t, 1, again.EventsSkipped)
	assert.Equal(t, 0, again.SubscribersCreated)
	assert.Equal(t, 0, again.SubscribersUpdated)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*again.LastSyncedAt))

	events, err := fx.repo.CountAllEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), events)

	subscribers, err := fx.repo.CountSubscribers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), subscribers)
}

func TestSyncResumesFromWatermark(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(openedEvent())

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)

	// Without an explicit since the stored watermark drives the window and
	// the record at the watermark is dropped locally.
	outcome, err := fx.sync.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, outcome.RequestedSince)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*outcome.EffectiveSince))
	assert.Equal(t, 0, outcome.EventsCreated)
	assert.Equal(t, 0, outcome.EventsSkipped)

	fx.feed.mu.Lock()
	last := fx.feed.queries[len(fx.feed.queries)-1]
	fx.feed.mu.Unlock()
	assert.Contains(t, last, "creation_date__start=2024-01-01T00%3A00%3A00Z")
}

func TestSyncFirstRunUsesLookback(t *testing.T) {
	fx := setup(t)
	fixed := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	fx.sync.now = func() time.Time { return fixed }

	outcome, err := fx.sync.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, fixed.AddDate(0, 0, -30).Equal(*outcome.EffectiveSince))
	assert.Nil(t, outcome.LatestEventAt)
	assert.Nil(t, outcome.LastSyncedAt)
}

func TestSyncExplicitSinceDoesNotRewindWatermark(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(openedEvent())

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)

	older := map[string]any{"id": "evt-0", "event_type": "email.delivered", "creation_date": "2023-12-15T00:00:00Z", "subscriber_id": "sub-1"}
	fx.feed.set(older)

	outcome, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.EventsCreated)
	assert.True(t, time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC).Equal(*outcome.LatestEventAt))
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*outcome.LastSyncedAt))
}

func TestSyncProviderErrorLeavesWatermark(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(openedEvent())

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)

	fx.feed.mu.Lock()
	fx.feed.status = http.StatusServiceUnavailable
	fx.feed.mu.Unlock()

	_, err = fx.sync.Sync(ctx, nil)
	var apiErr *buttondown.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SyncRuns.WithLabelValues("provider_error")))

	state, err := fx.sync.State(ctx)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*state.LastSyncedAt))
}

func TestSyncFallbackFiltersLocally(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(
		map[string]any{"id": "old", "event_type": "email.opened", "creation_date": "2023-06-01T00:00:00Z", "subscriber_id": "sub-1"},
		map[string]any{"id": "new", "event_type": "email.opened", "creation_date": "2024-02-01T00:00:00Z", "subscriber_id": "sub-1"},
	)

	rejecting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("creation_date__start") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fx.feed.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(rejecting)
	t.Cleanup(srv.Close)
	client, err := buttondown.NewClient(config.ButtondownConfig{APIKey: "k", APIBaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	fx.sync.client = client

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.EventsCreated)

	old, err := fx.repo.FindEventByEventID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestSyncSkipsRecordsWithoutID(t *testing.T) {
	fx := setup(t)
	fx.feed.set(
		map[string]any{"event_type": "email.sent", "creation_date": "2024-01-01T00:00:00Z"},
		map[string]any{"id": "evt-sys", "event_type": "email.sent", "creation_date": "2024-01-01T01:00:00Z"},
	)

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := fx.sync.Sync(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.EventsCreated)
	assert.Equal(t, 1, outcome.EventsSkipped)
	assert.Equal(t, 0, outcome.SubscribersCreated)
}

func TestSyncStatusInferenceAndTags(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.feed.set(
		map[string]any{
			"id": "evt-1", "event_type": "email.opened", "creation_date": "2024-01-01T00:00:00Z",
			"subscriber": map[string]any{"id": "sub-1", "email": "a@example.com", "first_name": "Ada", "tags": []any{"vip", "beta"}},
		},
		map[string]any{"id": "evt-2", "event_type": "subscriber.unsubscribed", "creation_date": "2024-01-02T00:00:00Z", "subscriber_id": "sub-1"},
		map[string]any{"id": "evt-3", "event_type": "email.bounced", "creation_date": "2024-01-03T00:00:00Z", "subscriber_id": "sub-2"},
	)

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := fx.sync.Sync(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.EventsCreated)
	assert.Equal(t, 2, outcome.SubscribersCreated)
	assert.Equal(t, 1, outcome.SubscribersUpdated)

	ada, err := fx.repo.FindSubscriberByProviderID(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnsubscribed, ada.Status)
	assert.Equal(t, "Ada", *ada.FirstName)

	tags, err := fx.repo.SubscriberTagNames(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "vip"}, tags)

	bounced, err := fx.repo.FindSubscriberByProviderID(ctx, "sub-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusBounced, bounced.Status)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	fx := setup(t)
	fx.feed.arrived = make(chan struct{}, 1)
	fx.feed.block = make(chan struct{})

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	done := make(chan error, 1)
	go func() {
		_, err := fx.sync.Sync(context.Background(), &since)
		done <- err
	}()

	select {
	case <-fx.feed.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("first sync never reached the provider")
	}

	_, err := fx.sync.Sync(context.Background(), &since)
	assert.True(t, errors.Is(err, ErrSyncInProgress))

	close(fx.feed.block)
	require.NoError(t, <-done)
}

func TestSyncWithoutClient(t *testing.T) {
	fx := setup(t)
	s := New(fx.repo, nil, 0, fx.metrics)
	assert.Equal(t, DefaultLookbackDays, s.LookbackDays())

	_, err := s.Sync(context.Background(), nil)
	assert.ErrorIs(t, err, buttondown.ErrNotConfigured)
}
