// Package backfill runs long multi-date fetch jobs that fill the raw
// cache for one district. Jobs run in the background, expose live
// progress counters, and absorb per-date failures without aborting.
package backfill

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/clubmetrics/districtrun/internal/build"
	"github.com/clubmetrics/districtrun/internal/config"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fetch"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/rawcache"
	"github.com/clubmetrics/districtrun/internal/telemetry"
	"github.com/clubmetrics/districtrun/internal/validate"
)

// Job statuses.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// Per-date outcomes fed to the progress counters and telemetry.
const (
	outcomeCompleted   = "completed"
	outcomeSkipped     = "skipped"
	outcomeUnavailable = "unavailable"
	outcomeFailed      = "failed"
)

// ErrCancelled is the error message a cancelled job finalizes with.
const ErrCancelled = "cancelled"

// Progress is a point-in-time snapshot of a job's counters.
type Progress struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Skipped     int    `json:"skipped"`
	Unavailable int    `json:"unavailable"`
	Failed      int    `json:"failed"`
	Current     string `json:"current,omitempty"`
}

// Job is the externally visible state of one backfill job.
type Job struct {
	ID          string     `json:"id"`
	DistrictID  string     `json:"districtId"`
	Status      string     `json:"status"`
	Progress    Progress   `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Finalized reports whether the job has stopped processing.
func (j Job) Finalized() bool {
	return j.Status != StatusProcessing
}

type jobState struct {
	job    Job
	cancel context.CancelFunc
}

// Controller owns the in-memory job table and the background workers.
type Controller struct {
	cache  *rawcache.Cache
	source fetch.Source

	memberThreshold float64
	pacer           *rate.Limiter
	retention       time.Duration

	mu   sync.Mutex
	jobs map[string]*jobState

	now func() time.Time
}

// NewController wires a Controller over the raw cache and a fetch
// source, tuned by the backfill configuration.
func NewController(cache *rawcache.Cache, source fetch.Source, cfg config.BackfillConfig) *Controller {
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.InterDateDelayMS > 0 {
		pacer = rate.NewLimiter(rate.Every(time.Duration(cfg.InterDateDelayMS)*time.Millisecond), 1)
	}
	return &Controller{
		cache:           cache,
		source:          source,
		memberThreshold: cfg.MemberThreshold,
		pacer:           pacer,
		retention:       time.Duration(cfg.JobRetentionMinutes) * time.Minute,
		jobs:            make(map[string]*jobState),
		now:             time.Now,
	}
}

// Initiate validates the request, registers a job, and starts its
// background loop. Empty start/end fall back to the program-year start
// and today. The returned id is the handle for Job and Cancel.
func (c *Controller) Initiate(districtID, startDate, endDate string) (string, error) {
	if reason := validate.CheckID(districtID); reason != "" {
		return "", errs.New(errs.KindInvalidInput, "backfill", "invalid district id %q: %s", districtID, reason)
	}

	today := c.now().UTC().Truncate(24 * time.Hour)

	start, end, err := c.resolveRange(startDate, endDate, today)
	if err != nil {
		return "", err
	}
	if start.After(end) {
		return "", errs.New(errs.KindInvalidInput, "backfill", "start date %s is after end date %s",
			start.Format(model.DateFormat), end.Format(model.DateFormat))
	}
	if end.After(today) {
		return "", errs.New(errs.KindInvalidInput, "backfill", "end date %s is in the future", end.Format(model.DateFormat))
	}

	pending, skipped, err := c.pendingDates(districtID, start, end)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", errs.New(errs.KindInvalidInput, "backfill", "every date from %s to %s is already cached for district %s",
			start.Format(model.DateFormat), end.Format(model.DateFormat), districtID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &jobState{
		cancel: cancel,
		job: Job{
			ID:         uuid.NewString(),
			DistrictID: districtID,
			Status:     StatusProcessing,
			Progress: Progress{
				Total:   len(pending) + skipped,
				Skipped: skipped,
			},
			CreatedAt: c.now().UTC(),
		},
	}

	c.mu.Lock()
	c.gcLocked()
	c.jobs[state.job.ID] = state
	c.mu.Unlock()

	for i := 0; i < skipped; i++ {
		telemetry.RecordBackfillOutcome(outcomeSkipped)
	}

	log.Info().Str("job", state.job.ID).Str("district", districtID).
		Int("dates", len(pending)).Int("skipped", skipped).
		Msg("backfill job started")

	go c.run(ctx, state.job.ID, districtID, pending)
	return state.job.ID, nil
}

// Job returns a snapshot of one job's state.
func (c *Controller) Job(id string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gcLocked()
	state, ok := c.jobs[id]
	if !ok {
		return Job{}, false
	}
	return state.job, true
}

// Jobs lists all known jobs, newest first.
func (c *Controller) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gcLocked()
	jobs := make([]Job, 0, len(c.jobs))
	for _, state := range c.jobs {
		jobs = append(jobs, state.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

// Cancel stops a processing job. The job finalizes with status error
// and message "cancelled"; dates already cached stay cached.
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.jobs[id]
	if !ok {
		return errs.New(errs.KindMissingData, "backfill", "no job %s", id)
	}
	if state.job.Finalized() {
		return errs.New(errs.KindInvalidInput, "backfill", "job %s already finalized", id)
	}
	state.cancel()
	now := c.now().UTC()
	state.job.Status = StatusError
	state.job.Error = ErrCancelled
	state.job.CompletedAt = &now
	state.job.Progress.Current = ""
	return nil
}

// resolveRange parses the requested dates, defaulting to the current
// program year's start and today.
func (c *Controller) resolveRange(startDate, endDate string, today time.Time) (start, end time.Time, err error) {
	if startDate == "" {
		start, _, err = model.ProgramYearBounds(model.ProgramYearOf(today))
		if err != nil {
			return start, end, errs.Wrap(errs.KindInvalidInput, "backfill", err)
		}
	} else if start, err = model.ParseDate(startDate); err != nil {
		return start, end, errs.New(errs.KindInvalidInput, "backfill", "invalid start date %q", startDate)
	}

	if endDate == "" {
		end = today
	} else if end, err = model.ParseDate(endDate); err != nil {
		return start, end, errs.New(errs.KindInvalidInput, "backfill", "invalid end date %q", endDate)
	}
	return start, end, nil
}

// pendingDates enumerates the inclusive range newest first, dropping
// dates the cache already holds completely.
func (c *Controller) pendingDates(districtID string, start, end time.Time) (pending []string, skipped int, err error) {
	cachedList, err := c.cache.CachedDatesFor(districtID)
	if err != nil {
		return nil, 0, err
	}
	cached := make(map[string]bool, len(cachedList))
	for _, date := range cachedList {
		cached[date] = true
	}

	for d := end; !d.Before(start); d = d.AddDate(0, 0, -1) {
		date := d.Format(model.DateFormat)
		if cached[date] {
			skipped++
			continue
		}
		pending = append(pending, date)
	}
	return pending, skipped, nil
}

// run is the background loop: one date at a time, newest first, never
// aborting on a single date's failure.
func (c *Controller) run(ctx context.Context, jobID, districtID string, dates []string) {
	for i, date := range dates {
		if ctx.Err() != nil {
			return
		}
		c.setCurrent(jobID, date)

		outcome := c.processDate(ctx, districtID, date)
		if ctx.Err() != nil {
			return
		}
		c.record(jobID, outcome)
		telemetry.RecordBackfillOutcome(outcome)

		if i < len(dates)-1 {
			if err := c.pacer.Wait(ctx); err != nil {
				return
			}
		}
	}
	c.finalize(jobID)
}

// processDate fetches and caches one date, classifying the outcome.
func (c *Controller) processDate(ctx context.Context, districtID, date string) string {
	reports, err := c.source.FetchDistrictReports(ctx, districtID, date)
	if err != nil {
		if fetch.Unavailable(err) {
			return outcomeUnavailable
		}
		log.Warn().Err(err).Str("district", districtID).Str("date", date).Msg("backfill fetch failed")
		return outcomeFailed
	}

	clubRows := reports.Club.Records
	if len(clubRows) > 0 && build.TotalMembers(clubRows) < c.memberThreshold {
		// The dashboard serves near-empty club rosters while the month
		// is being reconciled upstream; caching them would freeze bad
		// data into the pipeline.
		log.Info().Str("district", districtID).Str("date", date).
			Float64("totalMembers", build.TotalMembers(clubRows)).
			Msg("reconciliation period detected; date not cached")
		return outcomeUnavailable
	}
	if len(reports.District.Records) == 0 && len(reports.Division.Records) == 0 && len(clubRows) == 0 {
		return outcomeUnavailable
	}

	if err := c.cache.CacheDistrictData(districtID, date, reports.District, reports.Division, reports.Club); err != nil {
		log.Warn().Err(err).Str("district", districtID).Str("date", date).Msg("backfill cache write failed")
		return outcomeFailed
	}
	return outcomeCompleted
}

func (c *Controller) setCurrent(jobID, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.jobs[jobID]; ok && !state.job.Finalized() {
		state.job.Progress.Current = date
	}
}

func (c *Controller) record(jobID, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.jobs[jobID]
	if !ok || state.job.Finalized() {
		return
	}
	switch outcome {
	case outcomeCompleted:
		state.job.Progress.Completed++
	case outcomeUnavailable:
		state.job.Progress.Unavailable++
	case outcomeFailed:
		state.job.Progress.Failed++
	}
}

func (c *Controller) finalize(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.jobs[jobID]
	if !ok || state.job.Finalized() {
		return
	}
	now := c.now().UTC()
	state.job.Status = StatusComplete
	state.job.CompletedAt = &now
	state.job.Progress.Current = ""
	log.Info().Str("job", jobID).
		Int("completed", state.job.Progress.Completed).
		Int("unavailable", state.job.Progress.Unavailable).
		Int("failed", state.job.Progress.Failed).
		Msg("backfill job finished")
}

// gcLocked drops finalized jobs past the retention window. Callers
// hold c.mu.
func (c *Controller) gcLocked() {
	if c.retention <= 0 {
		return
	}
	cutoff := c.now().UTC().Add(-c.retention)
	for id, state := range c.jobs {
		if state.job.Finalized() && state.job.CompletedAt != nil && state.job.CompletedAt.Before(cutoff) {
			delete(c.jobs, id)
		}
	}
}
