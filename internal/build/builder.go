// Package build orchestrates one snapshot: probe the raw cache,
// validate and normalize each district's reports, rank the global
// summary, and publish district files, analytics, and the manifest.
// Per-district failures are absorbed into the manifest error log; the
// loop never aborts on one district.
package build

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/csvparse"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/rank"
	"github.com/clubmetrics/districtrun/internal/rawcache"
	"github.com/clubmetrics/districtrun/internal/snapshot"
	"github.com/clubmetrics/districtrun/internal/telemetry"
	"github.com/clubmetrics/districtrun/internal/timeseries"
	"github.com/clubmetrics/districtrun/internal/validate"
)

// SkipReasonExistingNewer marks a build skipped because the published
// snapshot at the logical date carries newer collection data.
const SkipReasonExistingNewer = "existing_is_newer"

const defaultConcurrency = 4

// Builder produces one snapshot per date from cached CSVs.
type Builder struct {
	cache   *rawcache.Cache
	store   *snapshot.Store
	indexer *timeseries.Indexer

	districts   []string
	concurrency int
	now         func() time.Time
}

// NewBuilder wires a Builder over its stores for the configured
// district set.
func NewBuilder(cache *rawcache.Cache, store *snapshot.Store, indexer *timeseries.Indexer, districts []string) *Builder {
	return &Builder{
		cache:       cache,
		store:       store,
		indexer:     indexer,
		districts:   districts,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
}

// Result reports one build's outcome.
type Result struct {
	Status     string                   `json:"status"`
	SnapshotID string                   `json:"snapshotId,omitempty"`
	Included   []string                 `json:"included"`
	Missing    []string                 `json:"missing"`
	Errors     []snapshot.DistrictError `json:"errors,omitempty"`
	Skipped    bool                     `json:"skipped,omitempty"`
	SkipReason string                   `json:"skipReason,omitempty"`
}

// districtOutcome is one district's processing result inside a build.
type districtOutcome struct {
	districtID string
	stats      model.DistrictStatistics
	err        error
}

// Build produces the snapshot for one cache date.
func (b *Builder) Build(ctx context.Context, date string) (*Result, error) {
	start := b.now()
	if _, err := model.ParseDate(date); err != nil {
		return nil, errs.New(errs.KindInvalidInput, "build", "invalid date %q", date)
	}
	if len(b.districts) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "build", "no districts configured")
	}

	present, missing := b.probe(date)
	hasGlobal := b.cache.Has(date, model.KindAllDistricts, "")
	if len(present) == 0 && !hasGlobal {
		return nil, errs.New(errs.KindMissingData, "build", "No cached data for %s", date)
	}

	outcomes := b.processDistricts(ctx, date, present)

	var (
		included  []string
		failed    []string
		dErrors   []snapshot.DistrictError
		districts = make(map[string]model.DistrictStatistics)
	)
	for _, outcome := range outcomes {
		if outcome.err != nil {
			failed = append(failed, outcome.districtID)
			dErrors = append(dErrors, districtError(outcome.districtID, "process", outcome.err, b.now()))
			continue
		}
		districts[outcome.districtID] = outcome.stats
		included = append(included, outcome.districtID)
	}

	rankings, globalRecords := b.computeRankings(date, hasGlobal)

	period := b.snapshotPeriod(date, districts, globalRecords)
	snapshotID := period.LogicalDate

	if existing, err := b.store.Manifest(snapshotID); err == nil {
		// Closing-period rule: replace only when the incoming collection
		// date is the same or newer.
		if existing.CollectionDate > period.CollectionDate {
			log.Info().Str("snapshot", snapshotID).
				Str("existing", existing.CollectionDate).Str("incoming", period.CollectionDate).
				Msg("skipping build; published snapshot is newer")
			return &Result{
				Status:     existing.Status,
				SnapshotID: snapshotID,
				Skipped:    true,
				SkipReason: SkipReasonExistingNewer,
			}, nil
		}
	}

	included, failed, dErrors, writeFailed, analyticsFiles := b.persistDistricts(snapshotID, included, failed, dErrors, districts, rankings)

	if len(rankings) > 0 {
		if err := b.store.WriteAllDistrictsRankings(snapshotID, rankings); err != nil {
			log.Error().Err(err).Str("snapshot", snapshotID).Msg("rankings artifact write failed")
		} else {
			analyticsFiles = append(analyticsFiles, "all_districts_rankings.json")
		}
	}
	if len(analyticsFiles) > 0 {
		m := analyticsManifest{Metadata: newAnalyticsMetadata(b.now().UTC()), Files: analyticsFiles}
		if err := b.store.WriteAnalytics(snapshotID, "manifest.json", m); err != nil {
			log.Warn().Err(err).Str("snapshot", snapshotID).Msg("analytics manifest write failed")
		}
	}

	status := buildStatus(len(included), len(b.districts))
	manifest := &snapshot.Manifest{
		SnapshotID:           snapshotID,
		Versions:             model.CurrentVersions(),
		CreatedAt:            b.now().UTC(),
		Status:               status,
		ConfiguredDistricts:  b.districts,
		SuccessfulDistricts:  included,
		FailedDistricts:      failed,
		DistrictErrors:       dErrors,
		ProcessingDurationMS: b.now().Sub(start).Milliseconds(),
		DataAsOfDate:         period.LogicalDate,
		IsClosingPeriodData:  period.IsClosing,
		CollectionDate:       period.CollectionDate,
		LogicalDate:          period.LogicalDate,
		WriteComplete:        len(writeFailed) == 0,
		WriteFailedDistricts: writeFailed,
	}

	// The manifest is written after every district file so observers
	// never see it reference a missing file.
	if err := b.store.WriteManifest(manifest); err != nil {
		telemetry.ObserveBuildDuration(snapshot.StatusFailed, b.now().Sub(start))
		return nil, err
	}

	b.appendDataPoints(snapshotID, included, districts, rankings)

	telemetry.ObserveBuildDuration(status, b.now().Sub(start))
	log.Info().Str("snapshot", snapshotID).Str("status", status).
		Int("included", len(included)).Int("missing", len(missing)).Int("failed", len(failed)).
		Msg("snapshot build finished")

	return &Result{
		Status:     status,
		SnapshotID: snapshotID,
		Included:   included,
		Missing:    missing,
		Errors:     dErrors,
	}, nil
}

// probe splits the configured districts into those with all three
// reports cached for the date and those without.
func (b *Builder) probe(date string) (present, missing []string) {
	for _, districtID := range b.districts {
		complete := true
		for _, kind := range model.PerDistrictKinds() {
			if !b.cache.Has(date, kind, districtID) {
				complete = false
				break
			}
		}
		if complete {
			present = append(present, districtID)
		} else {
			missing = append(missing, districtID)
		}
	}
	return present, missing
}

// processDistricts reads, parses, validates, and normalizes every
// present district with bounded parallelism.
func (b *Builder) processDistricts(ctx context.Context, date string, present []string) []districtOutcome {
	outcomes := make([]districtOutcome, len(present))
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

	for i, districtID := range present {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, districtID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				outcomes[i] = districtOutcome{districtID: districtID, err: errs.Wrap(errs.KindTransient, "build", err)}
				return
			}
			stats, err := b.processDistrict(date, districtID)
			outcomes[i] = districtOutcome{districtID: districtID, stats: stats, err: err}
		}(i, districtID)
	}
	wg.Wait()
	return outcomes
}

// processDistrict handles one district: three reports in, statistics
// out.
func (b *Builder) processDistrict(date, districtID string) (model.DistrictStatistics, error) {
	reports := make(map[model.ReportKind][]model.CSVRecord, 3)
	var rawDistrict []model.CSVRecord

	for _, kind := range model.PerDistrictKinds() {
		content, _, err := b.cache.Get(date, kind, districtID)
		if err != nil {
			return model.DistrictStatistics{}, err
		}
		parsed := parseRecords(content)
		if kind == model.KindDistrictPerformance {
			// The closing-period detector needs the footer rows the
			// validator strips.
			rawDistrict = parsed
		}
		reports[kind] = validate.PartitionRecords(parsed).Valid
	}

	normalizer := Normalizer{}
	stats := normalizer.Normalize(districtID, date,
		reports[model.KindDistrictPerformance],
		reports[model.KindDivisionPerformance],
		reports[model.KindClubPerformance])

	if period := DetectClosingPeriod(rawDistrict, date); period.IsClosing {
		stats.IsClosingPeriodData = true
		stats.LogicalDate = period.LogicalDate
		stats.AsOfDate = period.LogicalDate
	}
	return stats, nil
}

// computeRankings parses the global summary and ranks it. Districts
// missing from the summary simply have no ranking row.
func (b *Builder) computeRankings(date string, hasGlobal bool) ([]rank.Ranked, []model.CSVRecord) {
	if !hasGlobal {
		return nil, nil
	}
	content, _, err := b.cache.Get(date, model.KindAllDistricts, "")
	if err != nil {
		log.Warn().Err(err).Str("date", date).Msg("all-districts summary unreadable; skipping rankings")
		return nil, nil
	}

	records := parseRecords(content)
	valid := validate.PartitionRecords(records).Valid

	rows := make([]rank.Row, 0, len(valid))
	for _, record := range valid {
		rows = append(rows, rank.Row{
			DistrictID:           record.DistrictID(),
			ClubGrowthPercent:    numberPtr(record, "Club Growth %"),
			PaymentGrowthPercent: numberPtr(record, "Payment Growth %"),
			DistinguishedPercent: numberPtr(record, "Distinguished %"),
		})
	}
	return rank.Compute(rows), records
}

// snapshotPeriod settles the snapshot's logical and collection dates
// from the per-district detections, falling back to the global summary
// footer.
func (b *Builder) snapshotPeriod(date string, districts map[string]model.DistrictStatistics, globalRecords []model.CSVRecord) ClosingPeriod {
	for _, stats := range districts {
		if stats.IsClosingPeriodData {
			return ClosingPeriod{IsClosing: true, LogicalDate: stats.LogicalDate, CollectionDate: date}
		}
	}
	return DetectClosingPeriod(globalRecords, date)
}

// persistDistricts writes every included district's data and analytics
// files. Write failures move the district into the failed set and the
// writeFailedDistricts list.
func (b *Builder) persistDistricts(snapshotID string, included, failed []string, dErrors []snapshot.DistrictError, districts map[string]model.DistrictStatistics, rankings []rank.Ranked) (ok, failedOut []string, errsOut []snapshot.DistrictError, writeFailed, analyticsFiles []string) {
	rankingByID := make(map[string]*rank.Ranked, len(rankings))
	for i := range rankings {
		rankingByID[rankings[i].DistrictID] = &rankings[i]
	}

	ok = make([]string, 0, len(included))
	for _, districtID := range included {
		stats := districts[districtID]
		if err := b.store.WriteDistrictData(snapshotID, stats); err != nil {
			writeFailed = append(writeFailed, districtID)
			failed = append(failed, districtID)
			dErrors = append(dErrors, districtError(districtID, "write", err, b.now()))
			// Best effort: never leave a half-written district file
			// behind a manifest that excludes it.
			if delErr := b.store.DeleteDistrictData(snapshotID, districtID); delErr != nil {
				log.Warn().Err(delErr).Str("district", districtID).Msg("district file rollback failed")
			}
			continue
		}
		names, err := writeDistrictAnalytics(b.store, snapshotID, stats, rankingByID[districtID], b.now().UTC())
		if err != nil {
			log.Warn().Err(err).Str("district", districtID).Msg("analytics write failed")
		}
		analyticsFiles = append(analyticsFiles, names...)
		ok = append(ok, districtID)
	}
	return ok, failed, dErrors, writeFailed, analyticsFiles
}

// appendDataPoints updates each successful district's program-year
// index with this snapshot's point.
func (b *Builder) appendDataPoints(snapshotID string, included []string, districts map[string]model.DistrictStatistics, rankings []rank.Ranked) {
	rankingByID := make(map[string]rank.Ranked, len(rankings))
	for _, r := range rankings {
		rankingByID[r.DistrictID] = r
	}

	for _, districtID := range included {
		stats := districts[districtID]
		ranking := rankingByID[districtID]
		point := timeseries.DataPoint{
			Date:               snapshotID,
			AggregateScore:     ranking.AggregateScore,
			ClubsRank:          ranking.ClubsRank,
			PaymentsRank:       ranking.PaymentsRank,
			DistinguishedRank:  ranking.DistinguishedRank,
			MembershipTotal:    stats.Membership.Total,
			ClubCount:          stats.Clubs.Total,
			DistinguishedCount: stats.Clubs.DistinguishedTotal(),
		}
		if err := b.indexer.Upsert(districtID, point); err != nil {
			log.Warn().Err(err).Str("district", districtID).Msg("time-series upsert failed")
		}
	}
}

func buildStatus(included, configured int) string {
	switch {
	case included == 0:
		return snapshot.StatusFailed
	case included < configured:
		return snapshot.StatusPartial
	default:
		return snapshot.StatusSuccess
	}
}

func districtError(districtID, op string, err error, now time.Time) snapshot.DistrictError {
	retryable := true
	var classified *errs.Error
	if errors.As(err, &classified) {
		retryable = classified.Retryable()
	}
	return snapshot.DistrictError{
		DistrictID:  districtID,
		Op:          op,
		Error:       err.Error(),
		ShouldRetry: retryable,
		Timestamp:   now.UTC(),
	}
}

func numberPtr(record model.CSVRecord, key string) *float64 {
	if v, ok := record.Number(key); ok {
		value := v
		return &value
	}
	return nil
}

func parseRecords(content []byte) []model.CSVRecord {
	return csvparse.Parse(content).Records
}
