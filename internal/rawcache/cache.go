// Package rawcache is the content-addressed dated store for fetched
// dashboard CSVs. Layout under the cache root:
//
//	<root>/<YYYY-MM-DD>/metadata.json
//	<root>/<YYYY-MM-DD>/all-districts.csv
//	<root>/<YYYY-MM-DD>/district-<id>/<kind>.csv
//
// Content files are written atomically; metadata updates for a date are
// serialized behind a per-date lock.
package rawcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/csvparse"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fsio"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/telemetry"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Cache is the raw CSV store rooted at a cache directory.
type Cache struct {
	root string

	// sizeTolerance is the permitted drift between metadata totalSize
	// and the walked size before an integrity issue is reported.
	sizeTolerance int64

	mu        sync.Mutex
	dateLocks map[string]*sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithSizeTolerance overrides the integrity size drift tolerance.
func WithSizeTolerance(bytes int64) Option {
	return func(c *Cache) { c.sizeTolerance = bytes }
}

// New creates a Cache rooted at dir.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{
		root:          dir,
		sizeTolerance: 100,
		dateLocks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

func (c *Cache) dateLock(date string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.dateLocks[date]
	if !ok {
		lock = &sync.Mutex{}
		c.dateLocks[date] = lock
	}
	return lock
}

// filePath resolves the on-disk path for one report file.
func (c *Cache) filePath(date string, kind model.ReportKind, districtID string) (string, error) {
	if !datePattern.MatchString(date) {
		return "", errs.New(errs.KindInvalidInput, "rawcache", "invalid date %q", date)
	}
	if !kind.PerDistrict() {
		return fsio.SafeJoin(c.root, date, kind.FileName())
	}
	if !model.ValidDistrictID(districtID) {
		return "", errs.New(errs.KindInvalidInput, "rawcache", "invalid district id %q", districtID)
	}
	return fsio.SafeJoin(c.root, date, "district-"+districtID, kind.FileName())
}

// Put writes one report file atomically, records its checksum, and
// updates the date's metadata.
func (c *Cache) Put(date string, kind model.ReportKind, districtID string, content []byte) error {
	path, err := c.filePath(date, kind, districtID)
	if err != nil {
		return err
	}
	if err := fsio.WriteFileAtomic(path, content); err != nil {
		return errs.Wrap(errs.KindTransient, "rawcache.put", err).WithDistrict(districtID)
	}

	rel, _ := filepath.Rel(filepath.Join(c.root, date), path)
	checksum := checksumBytes(content)

	return c.updateMetadata(date, func(md *Metadata) {
		md.Integrity.Checksums[filepath.ToSlash(rel)] = checksum
		md.markPresent(kind, districtID)
		md.DownloadStats.TotalDownloads++
		md.DownloadStats.LastAccessed = time.Now().UTC()
		count, size := c.walkDate(date)
		md.Integrity.FileCount = count
		md.Integrity.TotalSize = size
	})
}

// Get reads one report file and returns its content and checksum.
// Download stats record the hit or miss.
func (c *Cache) Get(date string, kind model.ReportKind, districtID string) ([]byte, string, error) {
	path, err := c.filePath(date, kind, districtID)
	if err != nil {
		return nil, "", err
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		telemetry.RecordCacheMiss("raw")
		c.recordAccess(date, false)
		return nil, "", errs.New(errs.KindMissingData, "rawcache.get",
			"no cached %s for %s", kind, date).WithDistrict(districtID)
	}
	if err != nil {
		return nil, "", errs.Wrap(errs.KindTransient, "rawcache.get", err).WithDistrict(districtID)
	}

	telemetry.RecordCacheHit("raw")
	c.recordAccess(date, true)
	return content, checksumBytes(content), nil
}

// Has reports whether one report file exists.
func (c *Cache) Has(date string, kind model.ReportKind, districtID string) bool {
	path, err := c.filePath(date, kind, districtID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// ListDates enumerates cached dates in ascending order.
func (c *Cache) ListDates() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "rawcache.listDates", err)
	}

	var dates []string
	for _, entry := range entries {
		if entry.IsDir() && datePattern.MatchString(entry.Name()) {
			dates = append(dates, entry.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// CachedDatesFor lists dates holding all three per-district reports for
// a district, ascending.
func (c *Cache) CachedDatesFor(districtID string) ([]string, error) {
	dates, err := c.ListDates()
	if err != nil {
		return nil, err
	}

	var cached []string
	for _, date := range dates {
		complete := true
		for _, kind := range model.PerDistrictKinds() {
			if !c.Has(date, kind, districtID) {
				complete = false
				break
			}
		}
		if complete {
			cached = append(cached, date)
		}
	}
	return cached, nil
}

// CacheDistrictData writes the three per-district reports for one date
// atomically: on any failure every file written for the (district,
// date) pair is removed.
func (c *Cache) CacheDistrictData(districtID, date string, district, division, club csvparse.Result) error {
	reports := []struct {
		kind   model.ReportKind
		report csvparse.Result
	}{
		{model.KindDistrictPerformance, district},
		{model.KindDivisionPerformance, division},
		{model.KindClubPerformance, club},
	}

	for _, r := range reports {
		if err := c.Put(date, r.kind, districtID, csvparse.Encode(r.report)); err != nil {
			c.removeDistrictFiles(districtID, date)
			return fmt.Errorf("cache district %s for %s: %w", districtID, date, err)
		}
	}
	return nil
}

// removeDistrictFiles rolls back a partial per-district write.
func (c *Cache) removeDistrictFiles(districtID, date string) {
	for _, kind := range model.PerDistrictKinds() {
		path, err := c.filePath(date, kind, districtID)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("district", districtID).Str("date", date).
				Msg("rollback of partial district cache write failed")
		}
	}
	if err := c.updateMetadata(date, func(md *Metadata) {
		delete(md.Files.Districts, districtID)
		for _, kind := range model.PerDistrictKinds() {
			delete(md.Integrity.Checksums, "district-"+districtID+"/"+kind.FileName())
		}
		count, size := c.walkDate(date)
		md.Integrity.FileCount = count
		md.Integrity.TotalSize = size
	}); err != nil {
		log.Warn().Err(err).Str("date", date).Msg("metadata rollback failed")
	}
}

// Metadata returns the stored metadata for a date.
func (c *Cache) Metadata(date string) (*Metadata, error) {
	return c.loadMetadata(date)
}

// recordAccess bumps download stats outside the Put path. Misses on
// dates never cached must not materialize a date directory.
func (c *Cache) recordAccess(date string, hit bool) {
	if _, err := os.Stat(filepath.Join(c.root, date)); err != nil {
		return
	}
	err := c.updateMetadata(date, func(md *Metadata) {
		if hit {
			md.DownloadStats.CacheHits++
		} else {
			md.DownloadStats.CacheMisses++
		}
		md.DownloadStats.LastAccessed = time.Now().UTC()
	})
	if err != nil {
		log.Debug().Err(err).Str("date", date).Msg("download stats update failed")
	}
}

// walkDate counts CSV files and total size for a date directory: the
// date-dir level plus one level of district-<id> subdirectories.
func (c *Cache) walkDate(date string) (count int, size int64) {
	dateDir := filepath.Join(c.root, date)
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return 0, 0
	}

	for _, entry := range entries {
		if entry.IsDir() {
			subEntries, err := os.ReadDir(filepath.Join(dateDir, entry.Name()))
			if err != nil {
				continue
			}
			for _, sub := range subEntries {
				if !sub.IsDir() && filepath.Ext(sub.Name()) == ".csv" {
					count++
					if info, err := sub.Info(); err == nil {
						size += info.Size()
					}
				}
			}
			continue
		}
		if filepath.Ext(entry.Name()) == ".csv" {
			count++
			if info, err := entry.Info(); err == nil {
				size += info.Size()
			}
		}
	}
	return count, size
}

// listCSVFiles returns relative slash paths of every CSV under a date.
func (c *Cache) listCSVFiles(date string) []string {
	dateDir := filepath.Join(c.root, date)
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return nil
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			subEntries, err := os.ReadDir(filepath.Join(dateDir, entry.Name()))
			if err != nil {
				continue
			}
			for _, sub := range subEntries {
				if !sub.IsDir() && filepath.Ext(sub.Name()) == ".csv" {
					files = append(files, entry.Name()+"/"+sub.Name())
				}
			}
			continue
		}
		if filepath.Ext(entry.Name()) == ".csv" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files
}

func checksumBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
