// Package validate filters malformed district identifiers out of the
// pipeline before they can reach any cache, snapshot, or index. The
// dashboard's CSV exports occasionally leak footer text ("As of
// 1/20/2026") into the district column; rejection is warnings-only and
// never fails a build.
package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/model"
)

// Rejection reasons recorded per batch.
const (
	ReasonEmpty           = "empty"
	ReasonAsOfDate        = "as-of-date"
	ReasonNonAlphanumeric = "non-alphanumeric"
)

var asOfPattern = regexp.MustCompile(`(?i)^As of (\d{1,2})/(\d{1,2})/(\d{4})$`)

// AsOfDate extracts the date from a footer artifact like
// "As of 1/20/2026". The closing-period detector uses it to recover
// the report's true as-of date from rows the validator rejects.
func AsOfDate(id string) (time.Time, bool) {
	m := asOfPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// Rejection records one filtered-out id and why.
type Rejection struct {
	DistrictID string `json:"districtId"`
	Reason     string `json:"reason"`
}

// RecordResult partitions raw records into valid rows and rejections.
type RecordResult struct {
	Valid    []model.CSVRecord
	Rejected []Rejection
}

// StatsResult partitions district statistics into valid entries and
// rejections.
type StatsResult struct {
	Valid    []model.DistrictStatistics
	Rejected []Rejection
}

// CheckID classifies a single district id. The empty reason string
// means the id is valid.
func CheckID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ReasonEmpty
	}
	if asOfPattern.MatchString(trimmed) {
		return ReasonAsOfDate
	}
	if !model.ValidDistrictID(trimmed) {
		return ReasonNonAlphanumeric
	}
	return ""
}

// PartitionRecords filters raw report rows on their district column.
func PartitionRecords(records []model.CSVRecord) RecordResult {
	var result RecordResult
	for _, record := range records {
		id := record.DistrictID()
		if reason := CheckID(id); reason != "" {
			result.Rejected = append(result.Rejected, Rejection{DistrictID: id, Reason: reason})
			continue
		}
		result.Valid = append(result.Valid, record)
	}
	logSummary("records", len(records), result.Rejected)
	return result
}

// PartitionStats filters pre-built district statistics on DistrictID.
func PartitionStats(stats []model.DistrictStatistics) StatsResult {
	var result StatsResult
	for _, s := range stats {
		if reason := CheckID(s.DistrictID); reason != "" {
			result.Rejected = append(result.Rejected, Rejection{DistrictID: s.DistrictID, Reason: reason})
			continue
		}
		result.Valid = append(result.Valid, s)
	}
	logSummary("statistics", len(stats), result.Rejected)
	return result
}

// logSummary emits the per-batch rejection summary with per-reason
// counts. Rejection never fails the pipeline.
func logSummary(input string, total int, rejected []Rejection) {
	if len(rejected) == 0 {
		return
	}
	byReason := make(map[string]int, 3)
	for _, r := range rejected {
		byReason[r.Reason]++
	}
	event := log.Warn().
		Str("input", input).
		Int("total", total).
		Int("rejected", len(rejected))
	for reason, count := range byReason {
		event = event.Int(reason, count)
	}
	event.Msg("district id validation rejected records")
}
