package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubmetrics/districtrun/internal/config"
	"github.com/clubmetrics/districtrun/internal/csvparse"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fetch"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/rawcache"
)

type stubSource struct {
	mu    sync.Mutex
	dates []string
	fn    func(districtID, date string) (fetch.Reports, error)
}

func (s *stubSource) FetchDistrictReports(ctx context.Context, districtID, date string) (fetch.Reports, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Reports{}, err
	}
	s.mu.Lock()
	s.dates = append(s.dates, date)
	s.mu.Unlock()
	return s.fn(districtID, date)
}

func (s *stubSource) fetchedDates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dates...)
}

func healthyReports(t *testing.T) fetch.Reports {
	t.Helper()
	return fetch.Reports{
		District: csvparse.Parse([]byte("DISTRICT,Total Clubs\n42,50\n")),
		Division: csvparse.Parse([]byte("Division,Clubs\nA,10\n")),
		Club:     csvparse.Parse([]byte("Club Number,Club Name,Active Members\n1001,Alpha,80\n1002,Beta,70\n")),
	}
}

func sparseClubReports(t *testing.T) fetch.Reports {
	t.Helper()
	r := healthyReports(t)
	r.Club = csvparse.Parse([]byte("Club Number,Club Name,Active Members\n1001,Alpha,30\n1002,Beta,12\n"))
	return r
}

func testConfig() config.BackfillConfig {
	return config.BackfillConfig{
		MemberThreshold:     100,
		InterDateDelayMS:    1,
		JobRetentionMinutes: 60,
	}
}

func newController(t *testing.T, source fetch.Source) (*Controller, *rawcache.Cache) {
	t.Helper()
	cache := rawcache.New(t.TempDir())
	return NewController(cache, source, testConfig()), cache
}

func waitFinalized(t *testing.T, c *Controller, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = c.Job(id)
		return ok && job.Finalized()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestInitiate_CompletesAndCaches(t *testing.T) {
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}}
	c, cache := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	job := waitFinalized(t, c, id)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, 3, job.Progress.Total)
	assert.Equal(t, 3, job.Progress.Completed)
	assert.Zero(t, job.Progress.Failed)
	assert.Zero(t, job.Progress.Unavailable)
	assert.Empty(t, job.Progress.Current)
	require.NotNil(t, job.CompletedAt)

	for _, date := range []string{"2025-01-10", "2025-01-11", "2025-01-12"} {
		for _, kind := range model.PerDistrictKinds() {
			assert.True(t, cache.Has(date, kind, "42"), "%s %s", date, kind)
		}
	}
}

func TestInitiate_NewestFirst(t *testing.T) {
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}}
	c, _ := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-12")
	require.NoError(t, err)
	waitFinalized(t, c, id)

	assert.Equal(t, []string{"2025-01-12", "2025-01-11", "2025-01-10"}, source.fetchedDates())
}

func TestInitiate_SkipsCachedDates(t *testing.T) {
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}}
	c, cache := newController(t, source)

	seeded := healthyReports(t)
	require.NoError(t, cache.CacheDistrictData("42", "2025-01-11", seeded.District, seeded.Division, seeded.Club))

	id, err := c.Initiate("42", "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	job := waitFinalized(t, c, id)
	assert.Equal(t, 3, job.Progress.Total)
	assert.Equal(t, 1, job.Progress.Skipped)
	assert.Equal(t, 2, job.Progress.Completed)
	assert.NotContains(t, source.fetchedDates(), "2025-01-11")
}

func TestInitiate_ReconciliationPeriodNotCached(t *testing.T) {
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return sparseClubReports(t), nil
	}}
	c, cache := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-10")
	require.NoError(t, err)

	job := waitFinalized(t, c, id)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, 1, job.Progress.Unavailable, "club rows summing 42 members signal upstream reconciliation")
	assert.Zero(t, job.Progress.Completed)

	for _, kind := range model.PerDistrictKinds() {
		assert.False(t, cache.Has("2025-01-10", kind, "42"))
	}
}

func TestInitiate_EmptyReportsUnavailable(t *testing.T) {
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return fetch.Reports{}, nil
	}}
	c, cache := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-10")
	require.NoError(t, err)

	job := waitFinalized(t, c, id)
	assert.Equal(t, 1, job.Progress.Unavailable)
	assert.False(t, cache.Has("2025-01-10", model.KindDistrictPerformance, "42"))
}

func TestInitiate_UnavailableErrorClassified(t *testing.T) {
	source := &stubSource{fn: func(_, date string) (fetch.Reports, error) {
		if date == "2025-01-11" {
			return fetch.Reports{}, errors.New("Date selection failed for 2025-01-11")
		}
		return healthyReports(t), nil
	}}
	c, _ := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-11")
	require.NoError(t, err)

	job := waitFinalized(t, c, id)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, 1, job.Progress.Unavailable)
	assert.Equal(t, 1, job.Progress.Completed)
	assert.Zero(t, job.Progress.Failed)
}

func TestInitiate_FailureDoesNotAbortLoop(t *testing.T) {
	source := &stubSource{fn: func(_, date string) (fetch.Reports, error) {
		if date == "2025-01-12" {
			return fetch.Reports{}, errors.New("connection reset by peer")
		}
		return healthyReports(t), nil
	}}
	c, _ := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	job := waitFinalized(t, c, id)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, 1, job.Progress.Failed)
	assert.Equal(t, 2, job.Progress.Completed)
	assert.Len(t, source.fetchedDates(), 3, "failure on the newest date must not stop the older ones")
}

func TestInitiate_Validation(t *testing.T) {
	c, _ := newController(t, &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}})

	cases := []struct {
		name       string
		district   string
		start, end string
	}{
		{"empty district", "", "2025-01-10", "2025-01-10"},
		{"footer artifact district", "As of 1/20/2026", "2025-01-10", "2025-01-10"},
		{"bad start", "42", "01/10/2025", "2025-01-10"},
		{"bad end", "42", "2025-01-10", "tomorrow"},
		{"start after end", "42", "2025-01-12", "2025-01-10"},
		{"future end", "42", "2025-01-10", "2099-01-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Initiate(tc.district, tc.start, tc.end)
			require.Error(t, err)
			assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
		})
	}
}

func TestInitiate_FullyCachedRangeRejected(t *testing.T) {
	c, cache := newController(t, &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}})

	seeded := healthyReports(t)
	require.NoError(t, cache.CacheDistrictData("42", "2025-01-10", seeded.District, seeded.Division, seeded.Club))

	_, err := c.Initiate("42", "2025-01-10", "2025-01-10")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
	assert.Contains(t, err.Error(), "already cached")
}

func TestCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return healthyReports(t), nil
	}}
	defer close(release)

	c, _ := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	<-started
	require.NoError(t, c.Cancel(id))

	job, ok := c.Job(id)
	require.True(t, ok)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, ErrCancelled, job.Error)
	require.NotNil(t, job.CompletedAt)

	err = c.Cancel(id)
	require.Error(t, err, "finalized jobs cannot be cancelled twice")
}

func TestCancel_UnknownJob(t *testing.T) {
	c, _ := newController(t, &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}})

	err := c.Cancel("no-such-job")
	require.Error(t, err)
	assert.Equal(t, errs.KindMissingData, errs.KindOf(err))
}

func TestJobGC(t *testing.T) {
	source := &stubSource{fn: func(_, _ string) (fetch.Reports, error) {
		return healthyReports(t), nil
	}}
	c, _ := newController(t, source)

	id, err := c.Initiate("42", "2025-01-10", "2025-01-10")
	require.NoError(t, err)
	waitFinalized(t, c, id)

	// Move the clock past the retention window; the next lookup GCs.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok := c.Job(id)
	assert.False(t, ok)
}
