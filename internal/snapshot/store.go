// Package snapshot owns the immutable dated snapshot artifacts:
// per-snapshot manifest, per-district data files, and pre-computed
// analytics. Layout under the store root:
//
//	<root>/<YYYY-MM-DD>/manifest.json
//	<root>/<YYYY-MM-DD>/districts/district_<id>.json
//	<root>/<YYYY-MM-DD>/analytics/*.json
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fsio"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/rank"
)

const (
	manifestFileName  = "manifest.json"
	rankingsFileName  = "all_districts_rankings.json"
	metadataBatchSize = 8
)

var snapshotIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Store is the snapshot artifact store rooted at a directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// districtFile wraps one district's statistics with artifact versions.
type districtFile struct {
	Metadata fileMetadata             `json:"metadata"`
	District model.DistrictStatistics `json:"district"`
}

type fileMetadata struct {
	model.FileVersions
	GeneratedAt time.Time `json:"generatedAt"`
}

// rankingsFile is the all-districts rankings analytics artifact.
type rankingsFile struct {
	Metadata fileMetadata  `json:"metadata"`
	Rankings []rank.Ranked `json:"rankings"`
}

func (s *Store) snapshotDir(snapshotID string) (string, error) {
	if !snapshotIDPattern.MatchString(snapshotID) {
		return "", errs.New(errs.KindInvalidInput, "snapshot", "invalid snapshot id %q", snapshotID)
	}
	return fsio.SafeJoin(s.root, snapshotID)
}

func (s *Store) districtPath(snapshotID, districtID string) (string, error) {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return "", err
	}
	if !model.ValidDistrictID(districtID) {
		return "", errs.New(errs.KindInvalidInput, "snapshot", "invalid district id %q", districtID)
	}
	return fsio.SafeJoin(dir, "districts", "district_"+districtID+".json")
}

// WriteDistrictData persists one district's statistics for a snapshot.
func (s *Store) WriteDistrictData(snapshotID string, stats model.DistrictStatistics) error {
	path, err := s.districtPath(snapshotID, stats.DistrictID)
	if err != nil {
		return err
	}
	file := districtFile{
		Metadata: fileMetadata{FileVersions: model.CurrentVersions(), GeneratedAt: time.Now().UTC()},
		District: stats,
	}
	if err := fsio.WriteJSONAtomic(path, file); err != nil {
		return errs.Wrap(errs.KindTransient, "snapshot.writeDistrict", err).WithDistrict(stats.DistrictID)
	}
	return nil
}

// ReadDistrictData loads one district's statistics from a snapshot.
// Missing files return a missing-data error; files from another major
// version return schema-incompatible.
func (s *Store) ReadDistrictData(snapshotID, districtID string) (*model.DistrictStatistics, error) {
	path, err := s.districtPath(snapshotID, districtID)
	if err != nil {
		return nil, err
	}

	var file districtFile
	if err := fsio.ReadJSON(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.New(errs.KindMissingData, "snapshot.readDistrict",
				"district %s not in snapshot %s", districtID, snapshotID)
		}
		return nil, errs.Wrap(errs.KindTransient, "snapshot.readDistrict", err).WithDistrict(districtID)
	}

	if !file.Metadata.Compatible(model.CurrentVersions()) {
		return nil, errs.New(errs.KindSchemaIncompatible, "snapshot.readDistrict",
			"incompatible versions %s/%s/%s for district %s",
			file.Metadata.Schema, file.Metadata.Calculation, file.Metadata.Ranking, districtID)
	}
	return &file.District, nil
}

// ListDistrictsInSnapshot enumerates district ids by directory listing.
func (s *Store) ListDistrictsInSnapshot(snapshotID string) ([]string, error) {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, "districts"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "snapshot.listDistricts", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "district_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "district_"), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteManifest publishes a snapshot's manifest. Callers write it after
// every district file so observers never see a manifest referencing
// missing files.
func (s *Store) WriteManifest(m *Manifest) error {
	dir, err := s.snapshotDir(m.SnapshotID)
	if err != nil {
		return err
	}
	if err := fsio.WriteJSONAtomic(filepath.Join(dir, manifestFileName), m); err != nil {
		return errs.Wrap(errs.KindTransient, "snapshot.writeManifest", err)
	}
	return nil
}

// Manifest loads a snapshot's manifest; missing snapshots return a
// missing-data error.
func (s *Store) Manifest(snapshotID string) (*Manifest, error) {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := fsio.ReadJSON(filepath.Join(dir, manifestFileName), &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.New(errs.KindMissingData, "snapshot.manifest", "no snapshot for %s", snapshotID)
		}
		return nil, errs.Wrap(errs.KindTransient, "snapshot.manifest", err)
	}
	return &m, nil
}

// HasManifest reports whether a snapshot was published for the id.
func (s *Store) HasManifest(snapshotID string) bool {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, manifestFileName))
	return err == nil
}

// SnapshotMetadata returns the cheap summary for one snapshot.
func (s *Store) SnapshotMetadata(snapshotID string) (*Metadata, error) {
	m, err := s.Manifest(snapshotID)
	if err != nil {
		return nil, err
	}
	meta := m.Summary()
	return &meta, nil
}

// SnapshotMetadataBatch reads summaries for many snapshots with bounded
// parallelism. Unreadable snapshots are skipped.
func (s *Store) SnapshotMetadataBatch(snapshotIDs []string) ([]Metadata, error) {
	results := make([]*Metadata, len(snapshotIDs))
	sem := make(chan struct{}, metadataBatchSize)
	var wg sync.WaitGroup

	for i, id := range snapshotIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if meta, err := s.SnapshotMetadata(id); err == nil {
				results[i] = meta
			}
		}(i, id)
	}
	wg.Wait()

	metadata := make([]Metadata, 0, len(snapshotIDs))
	for _, meta := range results {
		if meta != nil {
			metadata = append(metadata, *meta)
		}
	}
	return metadata, nil
}

// ListSnapshotIDs enumerates snapshot ids ascending by directory name
// alone; no manifest is read.
func (s *Store) ListSnapshotIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "snapshot.listIDs", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && snapshotIDPattern.MatchString(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteAnalytics writes one analytics artifact for a snapshot.
func (s *Store) WriteAnalytics(snapshotID, name string, v any) error {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return err
	}
	path, err := fsio.SafeJoin(dir, "analytics", name)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "snapshot.writeAnalytics", err)
	}
	if err := fsio.WriteJSONAtomic(path, v); err != nil {
		return errs.Wrap(errs.KindTransient, "snapshot.writeAnalytics", err)
	}
	return nil
}

// WriteAllDistrictsRankings persists the ranking analytics artifact.
func (s *Store) WriteAllDistrictsRankings(snapshotID string, rankings []rank.Ranked) error {
	file := rankingsFile{
		Metadata: fileMetadata{FileVersions: model.CurrentVersions(), GeneratedAt: time.Now().UTC()},
		Rankings: rankings,
	}
	return s.WriteAnalytics(snapshotID, rankingsFileName, file)
}

// HasAllDistrictsRankings probes for the rankings artifact by file
// existence only.
func (s *Store) HasAllDistrictsRankings(snapshotID string) bool {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, "analytics", rankingsFileName))
	return err == nil
}

// ReadAllDistrictsRankings loads the rankings artifact.
func (s *Store) ReadAllDistrictsRankings(snapshotID string) ([]rank.Ranked, error) {
	dir, err := s.snapshotDir(snapshotID)
	if err != nil {
		return nil, err
	}

	var file rankingsFile
	if err := fsio.ReadJSON(filepath.Join(dir, "analytics", rankingsFileName), &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.New(errs.KindMissingData, "snapshot.readRankings",
				"no rankings for %s", snapshotID)
		}
		return nil, errs.Wrap(errs.KindTransient, "snapshot.readRankings", err)
	}

	if !file.Metadata.Compatible(model.CurrentVersions()) {
		return nil, errs.New(errs.KindSchemaIncompatible, "snapshot.readRankings",
			"incompatible rankings version %s", file.Metadata.Schema)
	}
	return file.Rankings, nil
}

// DeleteDistrictData removes one district file, used when a chunked
// write is rolled back. Idempotent.
func (s *Store) DeleteDistrictData(snapshotID, districtID string) error {
	path, err := s.districtPath(snapshotID, districtID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(errs.KindTransient, "snapshot.deleteDistrict", err)
	}
	return nil
}

// String implements fmt.Stringer for log context.
func (s *Store) String() string {
	return fmt.Sprintf("snapshot.Store(%s)", s.root)
}
