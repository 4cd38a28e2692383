package rawcache

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/clubmetrics/districtrun/internal/fsio"
	"github.com/clubmetrics/districtrun/internal/model"
)

// CacheVersion is stamped on every metadata file.
const CacheVersion = "2.0"

const metadataFileName = "metadata.json"

// Metadata describes one date directory of the raw cache.
type Metadata struct {
	ProgramYear   string        `json:"programYear"`
	Files         FilePresence  `json:"files"`
	Integrity     Integrity     `json:"integrity"`
	DownloadStats DownloadStats `json:"downloadStats"`
	Source        string        `json:"source"`
	CacheVersion  string        `json:"cacheVersion"`
}

// FilePresence flags which CSVs exist for the date.
type FilePresence struct {
	AllDistricts bool                       `json:"allDistricts"`
	Districts    map[string]map[string]bool `json:"districts"`
}

// Integrity carries the file-count, size, and checksum book-keeping
// reconciled by the integrity validator.
type Integrity struct {
	FileCount int               `json:"fileCount"`
	TotalSize int64             `json:"totalSize"`
	Checksums map[string]string `json:"checksums"`
}

// DownloadStats counts cache traffic for the date.
type DownloadStats struct {
	TotalDownloads int64     `json:"totalDownloads"`
	CacheHits      int64     `json:"cacheHits"`
	CacheMisses    int64     `json:"cacheMisses"`
	LastAccessed   time.Time `json:"lastAccessed"`
}

// newMetadata synthesizes defaults for a date with no metadata file.
func newMetadata(date string) *Metadata {
	md := &Metadata{
		Files:        FilePresence{Districts: make(map[string]map[string]bool)},
		Integrity:    Integrity{Checksums: make(map[string]string)},
		Source:       "dashboard",
		CacheVersion: CacheVersion,
	}
	if t, err := model.ParseDate(date); err == nil {
		md.ProgramYear = model.ProgramYearOf(t)
	}
	return md
}

// markPresent flips the presence flag for one cached file.
func (m *Metadata) markPresent(kind model.ReportKind, districtID string) {
	if !kind.PerDistrict() {
		m.Files.AllDistricts = true
		return
	}
	if m.Files.Districts == nil {
		m.Files.Districts = make(map[string]map[string]bool)
	}
	if m.Files.Districts[districtID] == nil {
		m.Files.Districts[districtID] = make(map[string]bool)
	}
	m.Files.Districts[districtID][string(kind)] = true
}

// loadMetadata reads a date's metadata file; a missing file yields
// freshly synthesized defaults.
func (c *Cache) loadMetadata(date string) (*Metadata, error) {
	var md Metadata
	err := fsio.ReadJSON(filepath.Join(c.root, date, metadataFileName), &md)
	if errors.Is(err, os.ErrNotExist) {
		return newMetadata(date), nil
	}
	if err != nil {
		return nil, err
	}
	if md.Integrity.Checksums == nil {
		md.Integrity.Checksums = make(map[string]string)
	}
	if md.Files.Districts == nil {
		md.Files.Districts = make(map[string]map[string]bool)
	}
	return &md, nil
}

// saveMetadata persists a date's metadata atomically, retrying briefly
// on write contention from concurrent processes.
func (c *Cache) saveMetadata(date string, md *Metadata) error {
	path := filepath.Join(c.root, date, metadataFileName)
	var err error
	for attempt := 0; attempt < metadataWriteRetries; attempt++ {
		if err = fsio.WriteJSONAtomic(path, md); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// updateMetadata applies fn to a date's metadata under the per-date
// lock, then persists it.
func (c *Cache) updateMetadata(date string, fn func(*Metadata)) error {
	lock := c.dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	md, err := c.loadMetadata(date)
	if err != nil {
		return err
	}
	fn(md)
	return c.saveMetadata(date, md)
}

const metadataWriteRetries = 3
