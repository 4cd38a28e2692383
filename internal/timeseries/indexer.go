// Package timeseries maintains the per-district program-year indexes
// that back range queries on rank and score trends. One JSON file per
// (district, program year) under time-series/district_<id>/.
package timeseries

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fsio"
	"github.com/clubmetrics/districtrun/internal/model"
)

// DataPoint is the minimal per-date record needed to plot rank and
// aggregate score trends.
type DataPoint struct {
	Date               string  `json:"date"`
	AggregateScore     int     `json:"aggregateScore"`
	ClubsRank          int     `json:"clubsRank"`
	PaymentsRank       int     `json:"paymentsRank"`
	DistinguishedRank  int     `json:"distinguishedRank"`
	MembershipTotal    float64 `json:"membershipTotal"`
	ClubCount          int     `json:"clubCount"`
	DistinguishedCount int     `json:"distinguishedCount"`
}

// Index is one district's data for one program year.
type Index struct {
	Metadata    indexMetadata `json:"metadata"`
	ProgramYear string        `json:"programYear"`
	StartDate   string        `json:"startDate"`
	EndDate     string        `json:"endDate"`
	DataPoints  []DataPoint   `json:"dataPoints"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

type indexMetadata struct {
	SchemaVersion string `json:"schemaVersion"`
}

// Indexer reads and writes program-year index files.
type Indexer struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer creates an Indexer rooted at dir.
func NewIndexer(dir string) *Indexer {
	return &Indexer{root: dir, locks: make(map[string]*sync.Mutex)}
}

// Root returns the indexer root directory.
func (ix *Indexer) Root() string { return ix.root }

func (ix *Indexer) fileLock(districtID, programYear string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	key := districtID + "/" + programYear
	lock, ok := ix.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		ix.locks[key] = lock
	}
	return lock
}

func (ix *Indexer) indexPath(districtID, programYear string) (string, error) {
	if !model.ValidDistrictID(districtID) {
		return "", errs.New(errs.KindInvalidInput, "timeseries", "invalid district id %q", districtID)
	}
	return fsio.SafeJoin(ix.root, "district_"+districtID, programYear+".json")
}

// Upsert inserts or replaces the DataPoint for its date in the
// district's program-year index, creating the index file if absent.
// Updates for one (district, programYear) file are serialized.
func (ix *Indexer) Upsert(districtID string, point DataPoint) error {
	date, err := model.ParseDate(point.Date)
	if err != nil {
		return errs.New(errs.KindInvalidInput, "timeseries.upsert", "invalid date %q", point.Date)
	}
	programYear := model.ProgramYearOf(date)

	path, err := ix.indexPath(districtID, programYear)
	if err != nil {
		return err
	}

	lock := ix.fileLock(districtID, programYear)
	lock.Lock()
	defer lock.Unlock()

	index, err := ix.readIndex(path)
	if err != nil {
		return err
	}
	if index == nil {
		index = newIndex(programYear)
	}

	upsertPoint(index, point)
	index.LastUpdated = time.Now().UTC()

	if err := fsio.WriteJSONAtomic(path, index); err != nil {
		return errs.Wrap(errs.KindTransient, "timeseries.upsert", err).WithDistrict(districtID)
	}
	return nil
}

// upsertPoint replaces an existing point for the same date or inserts
// in sorted position.
func upsertPoint(index *Index, point DataPoint) {
	pos := sort.Search(len(index.DataPoints), func(i int) bool {
		return index.DataPoints[i].Date >= point.Date
	})
	if pos < len(index.DataPoints) && index.DataPoints[pos].Date == point.Date {
		index.DataPoints[pos] = point
		return
	}
	index.DataPoints = append(index.DataPoints, DataPoint{})
	copy(index.DataPoints[pos+1:], index.DataPoints[pos:])
	index.DataPoints[pos] = point
}

func newIndex(programYear string) *Index {
	start, end, _ := model.ProgramYearBounds(programYear)
	return &Index{
		Metadata:    indexMetadata{SchemaVersion: model.SchemaVersion},
		ProgramYear: programYear,
		StartDate:   start.Format(model.DateFormat),
		EndDate:     end.Format(model.DateFormat),
		DataPoints:  []DataPoint{},
	}
}

// readIndex loads one index file; nil when the file does not exist.
// Other read errors propagate to writers but are swallowed on the read
// interface.
func (ix *Indexer) readIndex(path string) (*Index, error) {
	var index Index
	err := fsio.ReadJSON(path, &index)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "timeseries.read", err)
	}
	if index.Metadata.SchemaVersion != "" && !model.MajorMatches(index.Metadata.SchemaVersion) {
		return nil, errs.New(errs.KindSchemaIncompatible, "timeseries.read",
			"incompatible index version %s", index.Metadata.SchemaVersion)
	}
	return &index, nil
}

// TrendData returns every DataPoint for the district in [start, end]
// inclusive, ascending by date. Program-year files that are missing or
// unreadable contribute nothing; this interface never fails a read.
func (ix *Indexer) TrendData(districtID, start, end string) []DataPoint {
	startDate, err := model.ParseDate(start)
	if err != nil {
		return nil
	}
	endDate, err := model.ParseDate(end)
	if err != nil || endDate.Before(startDate) {
		return nil
	}

	var points []DataPoint
	for _, year := range model.ProgramYearsOverlapping(startDate, endDate) {
		path, err := ix.indexPath(districtID, year)
		if err != nil {
			return nil
		}
		index, err := ix.readIndex(path)
		if err != nil {
			log.Warn().Err(err).Str("district", districtID).Str("programYear", year).
				Msg("skipping unreadable program-year index")
			continue
		}
		if index == nil {
			continue
		}
		for _, point := range index.DataPoints {
			if point.Date >= start && point.Date <= end {
				points = append(points, point)
			}
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// ProgramYearData returns the full index for one program year, or nil
// when absent. The label must be "YYYY-YYYY" with consecutive years.
func (ix *Indexer) ProgramYearData(districtID, programYear string) (*Index, error) {
	if !model.ValidProgramYear(programYear) {
		return nil, errs.New(errs.KindInvalidInput, "timeseries.programYear",
			"invalid program year %q", programYear)
	}
	path, err := ix.indexPath(districtID, programYear)
	if err != nil {
		return nil, err
	}

	index, err := ix.readIndex(path)
	if err != nil {
		log.Warn().Err(err).Str("district", districtID).Str("programYear", programYear).
			Msg("program-year index unreadable")
		return nil, nil
	}
	return index, nil
}

// ProgramYears lists the program-year labels present on disk for a
// district, ascending.
func (ix *Indexer) ProgramYears(districtID string) ([]string, error) {
	if !model.ValidDistrictID(districtID) {
		return nil, errs.New(errs.KindInvalidInput, "timeseries", "invalid district id %q", districtID)
	}

	entries, err := os.ReadDir(filepath.Join(ix.root, "district_"+districtID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "timeseries.programYears", err)
	}

	var years []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		label := name[:len(name)-len(".json")]
		if model.ValidProgramYear(label) {
			years = append(years, label)
		}
	}
	sort.Strings(years)
	return years, nil
}
