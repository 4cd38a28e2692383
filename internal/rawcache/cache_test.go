package rawcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubmetrics/districtrun/internal/csvparse"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/model"
)

func testReport(rows ...model.CSVRecord) csvparse.Result {
	return csvparse.Result{
		Headers: []string{"DISTRICT", "Active Members"},
		Records: rows,
	}
}

func TestCache_PutGetRoundtrip(t *testing.T) {
	cache := New(t.TempDir())
	content := []byte("DISTRICT,Total Clubs\n42,120\n")

	require.NoError(t, cache.Put("2025-01-10", model.KindDistrictPerformance, "42", content))

	got, checksum, err := cache.Get("2025-01-10", model.KindDistrictPerformance, "42")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Len(t, checksum, 64)

	md, err := cache.Metadata("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, 1, md.Integrity.FileCount)
	assert.Equal(t, int64(len(content)), md.Integrity.TotalSize)
	assert.Equal(t, checksum, md.Integrity.Checksums["district-42/district-performance.csv"])
	assert.True(t, md.Files.Districts["42"]["district-performance"])
	assert.Equal(t, int64(1), md.DownloadStats.TotalDownloads)
	assert.Equal(t, int64(1), md.DownloadStats.CacheHits)
	assert.Equal(t, "2024-2025", md.ProgramYear)
}

func TestCache_GetMissing(t *testing.T) {
	cache := New(t.TempDir())

	_, _, err := cache.Get("2025-01-10", model.KindAllDistricts, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindMissingData, errs.KindOf(err))
}

func TestCache_RejectsInvalidInputs(t *testing.T) {
	cache := New(t.TempDir())

	err := cache.Put("not-a-date", model.KindAllDistricts, "", []byte("x"))
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	err = cache.Put("2025-01-10", model.KindClubPerformance, "../evil", []byte("x"))
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestCache_ListDatesAndCachedDatesFor(t *testing.T) {
	cache := New(t.TempDir())

	require.NoError(t, cache.Put("2025-01-11", model.KindAllDistricts, "", []byte("a,b\n1,2\n")))
	for _, kind := range model.PerDistrictKinds() {
		require.NoError(t, cache.Put("2025-01-10", kind, "42", []byte("a,b\n1,2\n")))
	}
	// Incomplete district: only one of three kinds.
	require.NoError(t, cache.Put("2025-01-11", model.KindClubPerformance, "42", []byte("a,b\n1,2\n")))

	dates, err := cache.ListDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10", "2025-01-11"}, dates)

	cached, err := cache.CachedDatesFor("42")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10"}, cached)
}

func TestCache_CacheDistrictDataWritesAllThree(t *testing.T) {
	cache := New(t.TempDir())
	row := model.CSVRecord{"DISTRICT": "42", "Active Members": 25.0}

	err := cache.CacheDistrictData("42", "2025-01-10", testReport(row), testReport(row), testReport(row))
	require.NoError(t, err)

	for _, kind := range model.PerDistrictKinds() {
		assert.True(t, cache.Has("2025-01-10", kind, "42"), kind)
	}

	content, _, err := cache.Get("2025-01-10", model.KindClubPerformance, "42")
	require.NoError(t, err)
	parsed := csvparse.Parse(content)
	require.Len(t, parsed.Records, 1)
	assert.Equal(t, 25.0, parsed.Records[0]["Active Members"])
}

func TestCache_CacheDistrictDataAtomicOnFailure(t *testing.T) {
	cache := New(t.TempDir())

	// Block the third write: a directory squatting on the club report
	// path makes the atomic rename fail.
	blocker := filepath.Join(cache.Root(), "2025-01-10", "district-42", model.KindClubPerformance.FileName())
	require.NoError(t, os.MkdirAll(blocker, 0o755))

	row := model.CSVRecord{"DISTRICT": "42"}
	err := cache.CacheDistrictData("42", "2025-01-10", testReport(row), testReport(row), testReport(row))
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(cache.Root(), "2025-01-10", "district-42"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, entry.IsDir(), "no csv files may survive a partial write: %s", entry.Name())
	}

	md, err := cache.Metadata("2025-01-10")
	require.NoError(t, err)
	assert.Empty(t, md.Files.Districts["42"])
}
