// Package aggregator is the read side of the pipeline: it serves
// snapshot and time-series artifacts to callers behind a small LRU
// cache. Each consumer dependency is a capability interface so the
// service never sees more of the stores than it uses.
package aggregator

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/snapshot"
	"github.com/clubmetrics/districtrun/internal/timeseries"
	"github.com/clubmetrics/districtrun/internal/validate"
)

// ManifestReader is the manifest capability the service consumes.
type ManifestReader interface {
	Manifest(snapshotID string) (*snapshot.Manifest, error)
}

// DistrictReader is the per-district read capability.
type DistrictReader interface {
	ReadDistrictData(snapshotID, districtID string) (*model.DistrictStatistics, error)
}

// TrendReader is the time-series capability.
type TrendReader interface {
	TrendData(districtID, start, end string) []timeseries.DataPoint
	ProgramYears(districtID string) ([]string, error)
	ProgramYearData(districtID, programYear string) (*timeseries.Index, error)
}

// ProgramYearInfo describes one program year's availability for a
// district.
type ProgramYearInfo struct {
	Year               string `json:"year"`
	StartDate          string `json:"startDate"`
	EndDate            string `json:"endDate"`
	SnapshotCount      int    `json:"snapshotCount"`
	LatestSnapshotDate string `json:"latestSnapshotDate,omitempty"`
	HasCompleteData    bool   `json:"hasCompleteData"`
}

// ProgramYearAvailability is the ListAvailableProgramYears response.
type ProgramYearAvailability struct {
	DistrictID   string            `json:"districtId"`
	ProgramYears []ProgramYearInfo `json:"programYears"`
}

// DistrictSummary is one district's row in a snapshot summary.
type DistrictSummary struct {
	DistrictID         string `json:"districtId"`
	Status             string `json:"status"`
	MemberCount        int    `json:"memberCount,omitempty"`
	ClubCount          int    `json:"clubCount,omitempty"`
	DistinguishedClubs int    `json:"distinguishedClubs,omitempty"`
}

// Per-district summary statuses.
const (
	SummarySuccess = "success"
	SummaryFailed  = "failed"
	SummaryMissing = "missing"
)

// Service serves the read contracts over the snapshot store and the
// time-series indexes.
type Service struct {
	manifests ManifestReader
	districts DistrictReader
	trends    TrendReader
	cache     *DistrictCache

	now func() time.Time
}

// NewService wires a Service over its store capabilities.
func NewService(manifests ManifestReader, districts DistrictReader, trends TrendReader, cache *DistrictCache) *Service {
	return &Service{
		manifests: manifests,
		districts: districts,
		trends:    trends,
		cache:     cache,
		now:       time.Now,
	}
}

// ListAvailableProgramYears reports, per program year with index data,
// how many snapshots the district has and whether the year's data is
// complete. Years sort descending. A year is complete only once it has
// ended and a snapshot landed in its closing June.
func (s *Service) ListAvailableProgramYears(districtID string) (*ProgramYearAvailability, error) {
	if reason := validate.CheckID(districtID); reason != "" {
		return nil, errs.New(errs.KindInvalidInput, "aggregator", "invalid district id %q: %s", districtID, reason)
	}

	years, err := s.trends.ProgramYears(districtID)
	if err != nil {
		return nil, err
	}

	availability := &ProgramYearAvailability{DistrictID: districtID, ProgramYears: []ProgramYearInfo{}}
	today := s.now().UTC()

	// ProgramYears returns ascending labels; walk backwards for the
	// descending contract.
	for i := len(years) - 1; i >= 0; i-- {
		year := years[i]
		index, err := s.trends.ProgramYearData(districtID, year)
		if err != nil || index == nil {
			log.Warn().Err(err).Str("district", districtID).Str("programYear", year).
				Msg("program year index unreadable; omitted from availability")
			continue
		}

		info := ProgramYearInfo{
			Year:          year,
			StartDate:     index.StartDate,
			EndDate:       index.EndDate,
			SnapshotCount: len(index.DataPoints),
		}
		if n := len(index.DataPoints); n > 0 {
			info.LatestSnapshotDate = index.DataPoints[n-1].Date
		}
		info.HasCompleteData = s.yearComplete(index, today)
		availability.ProgramYears = append(availability.ProgramYears, info)
	}
	return availability, nil
}

// yearComplete applies the completeness rule: the year has ended and at
// least one snapshot date falls in the June that closes it.
func (s *Service) yearComplete(index *timeseries.Index, today time.Time) bool {
	end, err := model.ParseDate(index.EndDate)
	if err != nil || !end.Before(today) {
		return false
	}
	closingJune := end.Format("2006") + "-06"
	for _, point := range index.DataPoints {
		if strings.HasPrefix(point.Date, closingJune) {
			return true
		}
	}
	return false
}

// TrendData returns the district's data points in [start, end], sorted
// ascending. Missing data yields an empty slice.
func (s *Service) TrendData(districtID, start, end string) ([]timeseries.DataPoint, error) {
	if reason := validate.CheckID(districtID); reason != "" {
		return nil, errs.New(errs.KindInvalidInput, "aggregator", "invalid district id %q: %s", districtID, reason)
	}
	startT, err := model.ParseDate(start)
	if err != nil {
		return nil, errs.New(errs.KindInvalidInput, "aggregator", "invalid start date %q", start)
	}
	endT, err := model.ParseDate(end)
	if err != nil {
		return nil, errs.New(errs.KindInvalidInput, "aggregator", "invalid end date %q", end)
	}
	if startT.After(endT) {
		return nil, errs.New(errs.KindInvalidInput, "aggregator", "start date %s is after end date %s", start, end)
	}
	return s.trends.TrendData(districtID, start, end), nil
}

// DistrictData returns one district's statistics from a snapshot, or
// nil when the snapshot has no data for it.
func (s *Service) DistrictData(snapshotID, districtID string) (*model.DistrictStatistics, error) {
	key := snapshotID + "|" + districtID
	if stats, ok := s.cache.Get(key); ok {
		return stats, nil
	}

	stats, err := s.districts.ReadDistrictData(snapshotID, districtID)
	if err != nil {
		if errs.KindOf(err) == errs.KindMissingData {
			return nil, nil
		}
		return nil, err
	}
	s.cache.Put(key, stats)
	return stats, nil
}

// DistrictSummary returns one row per district the snapshot's manifest
// configured, with counts filled in for successful districts.
func (s *Service) DistrictSummary(snapshotID string) ([]DistrictSummary, error) {
	manifest, err := s.manifests.Manifest(snapshotID)
	if err != nil {
		return nil, err
	}

	successful := make(map[string]bool, len(manifest.SuccessfulDistricts))
	for _, id := range manifest.SuccessfulDistricts {
		successful[id] = true
	}
	failed := make(map[string]bool, len(manifest.FailedDistricts))
	for _, id := range manifest.FailedDistricts {
		failed[id] = true
	}

	summaries := make([]DistrictSummary, 0, len(manifest.ConfiguredDistricts))
	for _, districtID := range manifest.ConfiguredDistricts {
		summary := DistrictSummary{DistrictID: districtID, Status: SummaryMissing}
		switch {
		case successful[districtID]:
			summary.Status = SummarySuccess
			stats, err := s.DistrictData(snapshotID, districtID)
			if err == nil && stats != nil {
				summary.MemberCount = int(stats.Membership.Total)
				summary.ClubCount = stats.Clubs.Total
				summary.DistinguishedClubs = stats.Clubs.DistinguishedTotal()
			}
		case failed[districtID]:
			summary.Status = SummaryFailed
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
