package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubmetrics/districtrun/internal/config"
)

type orchestratorRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  func(districtID, month string) error
}

func (r *orchestratorRecorder) run(_ context.Context, districtID, month string) error {
	r.mu.Lock()
	r.calls = append(r.calls, districtID+"|"+month)
	r.mu.Unlock()
	if r.fail != nil {
		return r.fail(districtID, month)
	}
	return nil
}

func (r *orchestratorRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testScheduler(districts []string, rec *orchestratorRecorder) *Scheduler {
	return NewScheduler(districts, rec.run, config.Default().Reconcile)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTick_SchedulesPreviousMonthInWindow(t *testing.T) {
	rec := &orchestratorRecorder{}
	s := testScheduler([]string{"1", "2"}, rec)
	s.now = fixedClock(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "2025-02", e.Month)
		assert.Equal(t, StatusInitiated, e.Status, "due immediately, initiated in the same tick")
		assert.Equal(t, 1, e.Attempts)
	}
	assert.ElementsMatch(t, []string{"1|2025-02", "2|2025-02"}, rec.calls)
}

func TestTick_OutsideWindowSchedulesNothing(t *testing.T) {
	rec := &orchestratorRecorder{}
	s := testScheduler([]string{"1"}, rec)
	s.now = fixedClock(time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	assert.Empty(t, s.Entries())
	assert.Zero(t, rec.callCount())
}

func TestTick_JanuaryWrapsToDecember(t *testing.T) {
	rec := &orchestratorRecorder{}
	s := testScheduler([]string{"1"}, rec)
	s.now = fixedClock(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-12", entries[0].Month)
}

func TestTick_DuplicateMonthsNotRescheduled(t *testing.T) {
	rec := &orchestratorRecorder{}
	s := testScheduler([]string{"1"}, rec)
	s.now = fixedClock(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))

	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Tick(context.Background())

	require.Len(t, s.Entries(), 1)
	assert.Equal(t, 1, rec.callCount())
}

func TestTick_RetriesWithBackoffThenFails(t *testing.T) {
	rec := &orchestratorRecorder{fail: func(_, _ string) error {
		return errors.New("backfill queue full")
	}}
	s := testScheduler([]string{"1"}, rec)

	clock := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	s.now = fixedClock(clock)
	s.Tick(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusPending, entries[0].Status)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, clock.Add(time.Hour), entries[0].ScheduledFor)
	assert.Equal(t, "backfill queue full", entries[0].LastError)

	// Before the backoff expires nothing is due.
	s.now = fixedClock(clock.Add(30 * time.Minute))
	s.Tick(context.Background())
	assert.Equal(t, 1, rec.callCount())

	s.now = fixedClock(clock.Add(time.Hour))
	s.Tick(context.Background())
	assert.Equal(t, 2, rec.callCount())

	s.now = fixedClock(clock.Add(2 * time.Hour))
	s.Tick(context.Background())
	assert.Equal(t, 3, rec.callCount())

	entries = s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, 3, entries[0].Attempts)

	// Exhausted entries never fire again.
	s.now = fixedClock(clock.Add(3 * time.Hour))
	s.Tick(context.Background())
	assert.Equal(t, 3, rec.callCount())
}

func TestTick_SucceedsAfterRetry(t *testing.T) {
	var failures int
	rec := &orchestratorRecorder{}
	rec.fail = func(_, _ string) error {
		if failures == 0 {
			failures++
			return errors.New("transient")
		}
		return nil
	}
	s := testScheduler([]string{"1"}, rec)

	clock := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	s.now = fixedClock(clock)
	s.Tick(context.Background())

	s.now = fixedClock(clock.Add(time.Hour))
	s.Tick(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusInitiated, entries[0].Status)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Empty(t, entries[0].LastError)
}

func TestTick_GCRemovesSettledEntries(t *testing.T) {
	rec := &orchestratorRecorder{}
	s := testScheduler([]string{"1"}, rec)

	clock := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	s.now = fixedClock(clock)
	s.Tick(context.Background())
	require.Len(t, s.Entries(), 1)

	// 25 hours later it is March 6th, outside the scheduling window, so
	// the settled entry is collected and nothing replaces it.
	s.now = fixedClock(clock.Add(25 * time.Hour))
	s.Tick(context.Background())
	assert.Empty(t, s.Entries())
}
