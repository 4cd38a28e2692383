package rawcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fsio"
	"github.com/clubmetrics/districtrun/internal/model"
)

// maxLineLength is the corruption threshold for a single CSV line.
const maxLineLength = 50000

// Issue is one integrity finding for a date directory.
type Issue struct {
	File    string `json:"file,omitempty"`
	Problem string `json:"problem"`
}

// CorruptionReport is the verdict on a single file's content.
type CorruptionReport struct {
	IsValid bool     `json:"isValid"`
	Issues  []string `json:"issues,omitempty"`
}

// Validate reconciles a date directory against its metadata: file
// count, total size within tolerance, and a SHA-256 recheck of every
// file in the checksum table.
func (c *Cache) Validate(date string) ([]Issue, error) {
	md, err := c.loadMetadata(date)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "rawcache.validate", err)
	}

	var issues []Issue

	count, size := c.walkDate(date)
	if count != md.Integrity.FileCount {
		issues = append(issues, Issue{Problem: fmt.Sprintf(
			"file count mismatch: metadata %d, actual %d", md.Integrity.FileCount, count)})
	}
	drift := size - md.Integrity.TotalSize
	if drift < 0 {
		drift = -drift
	}
	if drift > c.sizeTolerance {
		issues = append(issues, Issue{Problem: fmt.Sprintf(
			"total size mismatch: metadata %d, actual %d", md.Integrity.TotalSize, size)})
	}

	dateDir := filepath.Join(c.root, date)
	for rel, expected := range md.Integrity.Checksums {
		content, err := os.ReadFile(filepath.Join(dateDir, filepath.FromSlash(rel)))
		if errors.Is(err, os.ErrNotExist) {
			issues = append(issues, Issue{File: rel, Problem: "file missing"})
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "rawcache.validate", err)
		}
		if checksumBytes(content) != expected {
			issues = append(issues, Issue{File: rel, Problem: "checksum mismatch"})
		}
	}

	if len(issues) > 0 {
		log.Warn().Str("date", date).Int("issues", len(issues)).Msg("cache integrity issues found")
	}
	return issues, nil
}

// DetectCorruption inspects a single file's content. expectedChecksum
// may be empty when no checksum was ever recorded.
func DetectCorruption(content []byte, expectedChecksum string) CorruptionReport {
	var issues []string

	text := string(content)
	if strings.TrimSpace(text) == "" {
		return CorruptionReport{Issues: []string{"empty or whitespace-only file"}}
	}

	if containsControlBytes(content) {
		issues = append(issues, "binary or control characters present")
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) < 2 {
		issues = append(issues, "fewer than two lines")
	}
	if len(lines) > 2 && !strings.Contains(lines[len(lines)-1], ",") {
		issues = append(issues, "last line has no comma (possible truncation)")
	}
	for _, line := range lines {
		if len(line) > maxLineLength {
			issues = append(issues, fmt.Sprintf("line exceeds %d characters", maxLineLength))
			break
		}
	}

	if expectedChecksum != "" && checksumBytes(content) != expectedChecksum {
		issues = append(issues, "checksum mismatch")
	}

	return CorruptionReport{IsValid: len(issues) == 0, Issues: issues}
}

// containsControlBytes reports bytes that never appear in a CSV export:
// \x00-\x08, \x0B, \x0C, \x0E-\x1F, \x7F.
func containsControlBytes(content []byte) bool {
	for _, b := range content {
		switch {
		case b <= 0x08:
			return true
		case b == 0x0B || b == 0x0C:
			return true
		case b >= 0x0E && b <= 0x1F:
			return true
		case b == 0x7F:
			return true
		}
	}
	return false
}

// Repair rebuilds a date's metadata from the files on disk: counts,
// sizes, the full checksum table, and presence flags. Running Repair
// twice without external changes yields identical metadata.
func (c *Cache) Repair(date string) (*Metadata, error) {
	lock := c.dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	md, err := c.loadMetadata(date)
	if err != nil {
		md = newMetadata(date)
	}

	dateDir := filepath.Join(c.root, date)
	files := c.listCSVFiles(date)

	md.Integrity.Checksums = make(map[string]string, len(files))
	md.Files = FilePresence{Districts: make(map[string]map[string]bool)}
	md.Integrity.FileCount = len(files)
	md.Integrity.TotalSize = 0
	md.CacheVersion = CacheVersion
	if t, perr := model.ParseDate(date); perr == nil {
		md.ProgramYear = model.ProgramYearOf(t)
	}

	for _, rel := range files {
		content, err := os.ReadFile(filepath.Join(dateDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "rawcache.repair", err)
		}
		md.Integrity.Checksums[rel] = checksumBytes(content)
		md.Integrity.TotalSize += int64(len(content))

		if kind, districtID, ok := classifyRelPath(rel); ok {
			md.markPresent(kind, districtID)
		}
	}

	if err := c.saveMetadata(date, md); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "rawcache.repair", err)
	}
	log.Info().Str("date", date).Int("files", len(files)).Msg("cache metadata repaired")
	return md, nil
}

// Recover deletes a confirmed-corrupt file and drops its checksum
// entry. Idempotent when the file is already gone.
func (c *Cache) Recover(date, relPath string) error {
	path, err := fsio.SafeJoin(filepath.Join(c.root, date), filepath.FromSlash(relPath))
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "rawcache.recover", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(errs.KindTransient, "rawcache.recover", err)
	}

	err = c.updateMetadata(date, func(md *Metadata) {
		delete(md.Integrity.Checksums, filepath.ToSlash(relPath))
		count, size := c.walkDate(date)
		md.Integrity.FileCount = count
		md.Integrity.TotalSize = size
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, "rawcache.recover", err)
	}

	log.Warn().Str("date", date).Str("file", relPath).Msg("corrupt cache file removed")
	return nil
}

// classifyRelPath maps a relative CSV path back to its report kind and
// district, used to rebuild presence flags.
func classifyRelPath(rel string) (model.ReportKind, string, bool) {
	if rel == model.KindAllDistricts.FileName() {
		return model.KindAllDistricts, "", true
	}
	dir, file, found := strings.Cut(rel, "/")
	if !found || !strings.HasPrefix(dir, "district-") {
		return "", "", false
	}
	districtID := strings.TrimPrefix(dir, "district-")
	for _, kind := range model.PerDistrictKinds() {
		if file == kind.FileName() {
			return kind, districtID, true
		}
	}
	return "", "", false
}
