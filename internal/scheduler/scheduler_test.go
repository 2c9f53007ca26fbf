package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-tracker-go/internal/config"
	"engagement-tracker-go/internal/syncer"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context, since *time.Time) (*syncer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &syncer.Outcome{EventsCreated: 2}, nil
}

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 60}, &fakeSyncer{})

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.GetNextRun().IsZero())
	assert.Error(t, sched.Start())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err(), "context should be active after restart")
	assert.Len(t, sched.cron.Entries(), 1)

	require.NoError(t, sched.Stop())
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 0}, &fakeSyncer{})
	assert.Error(t, sched.Start())
	assert.False(t, sched.IsRunning())
}

func TestRunOnce(t *testing.T) {
	fake := &fakeSyncer{}
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 15}, fake)

	outcome, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.EventsCreated)
	assert.Equal(t, 1, fake.calls)
	assert.False(t, sched.GetLastRun().IsZero())

	fake.err = errors.New("provider down")
	_, err = sched.RunOnce(context.Background())
	assert.EqualError(t, err, "provider down")
	sched.Wait()
}
