// Package reconcile schedules month-end re-runs. The dashboard keeps
// revising a month's data for the first days of the next month, so
// early in each month every district gets one reconciliation pass over
// the previous month, with bounded retries.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/config"
	"github.com/clubmetrics/districtrun/internal/telemetry"
)

// Entry statuses.
const (
	StatusPending   = "pending"
	StatusInitiated = "initiated"
	StatusFailed    = "failed"
)

// Orchestrator initiates one reconciliation run for a district's month
// ("YYYY-MM"). The scheduler only tracks the attempt; the run itself
// (backfill plus rebuilds) belongs to the orchestrator.
type Orchestrator func(ctx context.Context, districtID, month string) error

// Entry is one scheduled reconciliation.
type Entry struct {
	DistrictID   string    `json:"districtId"`
	Month        string    `json:"month"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	ScheduledFor time.Time `json:"scheduledFor"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastError    string    `json:"lastError,omitempty"`
}

// Scheduler owns the reconciliation table and the interval loop.
type Scheduler struct {
	districts   []string
	orchestrate Orchestrator

	interval    time.Duration
	retryDelay  time.Duration
	retention   time.Duration
	maxAttempts int
	windowDays  int

	mu      sync.Mutex
	entries map[string]*Entry

	now func() time.Time
}

// NewScheduler wires a Scheduler for the configured district set.
func NewScheduler(districts []string, orchestrate Orchestrator, cfg config.ReconcileConfig) *Scheduler {
	return &Scheduler{
		districts:   districts,
		orchestrate: orchestrate,
		interval:    time.Duration(cfg.IntervalMinutes) * time.Minute,
		retryDelay:  time.Duration(cfg.RetryDelayMinutes) * time.Minute,
		retention:   time.Duration(cfg.RetentionHours) * time.Hour,
		maxAttempts: cfg.MaxAttempts,
		windowDays:  cfg.ScheduleWindowDays,
		entries:     make(map[string]*Entry),
		now:         time.Now,
	}
}

// Run ticks until the context is cancelled. The first tick fires
// immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Int("districts", len(s.districts)).
		Msg("reconciliation scheduler running")

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: schedule the previous month while in
// the month-start window, initiate due entries, and GC settled ones.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	if now.Day() <= s.windowDays {
		s.scheduleLocked(now)
	}
	due := s.dueLocked(now)
	s.gcLocked(now)
	s.mu.Unlock()

	for _, key := range due {
		s.initiate(ctx, key)
	}
}

// Entries returns a snapshot of the table, stable by district then
// month.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DistrictID != entries[j].DistrictID {
			return entries[i].DistrictID < entries[j].DistrictID
		}
		return entries[i].Month < entries[j].Month
	})
	return entries
}

// scheduleLocked adds one pending entry per district for the previous
// month, skipping months already tracked.
func (s *Scheduler) scheduleLocked(now time.Time) {
	month := previousMonth(now)
	for _, districtID := range s.districts {
		key := districtID + "|" + month
		if _, exists := s.entries[key]; exists {
			continue
		}
		s.entries[key] = &Entry{
			DistrictID:   districtID,
			Month:        month,
			Status:       StatusPending,
			ScheduledFor: now,
			UpdatedAt:    now,
		}
		log.Info().Str("district", districtID).Str("month", month).Msg("reconciliation scheduled")
	}
}

// dueLocked collects the keys of pending entries whose time has come.
func (s *Scheduler) dueLocked(now time.Time) []string {
	var due []string
	for key, e := range s.entries {
		if e.Status == StatusPending && !e.ScheduledFor.After(now) {
			due = append(due, key)
		}
	}
	sort.Strings(due)
	return due
}

// initiate runs the orchestrator for one entry and settles its state.
func (s *Scheduler) initiate(ctx context.Context, key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	e.Attempts++
	districtID, month := e.DistrictID, e.Month
	s.mu.Unlock()

	err := s.orchestrate(ctx, districtID, month)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[key]
	if !ok {
		return
	}
	now := s.now().UTC()
	e.UpdatedAt = now

	if err == nil {
		e.Status = StatusInitiated
		e.LastError = ""
		telemetry.RecordReconcileAttempt(StatusInitiated)
		log.Info().Str("district", districtID).Str("month", month).
			Int("attempts", e.Attempts).Msg("reconciliation initiated")
		return
	}

	e.LastError = err.Error()
	if e.Attempts < s.maxAttempts {
		e.Status = StatusPending
		e.ScheduledFor = now.Add(s.retryDelay)
		telemetry.RecordReconcileAttempt("retry")
		log.Warn().Err(err).Str("district", districtID).Str("month", month).
			Int("attempts", e.Attempts).Time("retryAt", e.ScheduledFor).
			Msg("reconciliation attempt failed; will retry")
		return
	}

	e.Status = StatusFailed
	telemetry.RecordReconcileAttempt(StatusFailed)
	log.Error().Err(err).Str("district", districtID).Str("month", month).
		Int("attempts", e.Attempts).Msg("reconciliation exhausted retries")
}

// gcLocked removes settled entries past the retention window.
func (s *Scheduler) gcLocked(now time.Time) {
	if s.retention <= 0 {
		return
	}
	cutoff := now.Add(-s.retention)
	for key, e := range s.entries {
		if (e.Status == StatusInitiated || e.Status == StatusFailed) && e.UpdatedAt.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// previousMonth formats the month before t's as "YYYY-MM".
func previousMonth(t time.Time) string {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Format("2006-01")
}
