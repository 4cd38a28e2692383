package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fsio"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/rank"
)

func testStats(districtID string) model.DistrictStatistics {
	return model.DistrictStatistics{
		DistrictID: districtID,
		AsOfDate:   "2025-01-10",
		Membership: model.MembershipStats{Total: 2500, Change: 50, ChangePercent: 2.04},
		Clubs:      model.ClubStats{Total: 120, Active: 110, Distinguished: 20},
	}
}

func TestStore_WriteReadDistrictData(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.WriteDistrictData("2025-01-10", testStats("42")))

	stats, err := store.ReadDistrictData("2025-01-10", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", stats.DistrictID)
	assert.Equal(t, 2500.0, stats.Membership.Total)
}

func TestStore_ReadDistrictDataMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.ReadDistrictData("2025-01-10", "42")
	require.Error(t, err)
	assert.Equal(t, errs.KindMissingData, errs.KindOf(err))
}

func TestStore_ReadDistrictDataIncompatibleVersion(t *testing.T) {
	store := NewStore(t.TempDir())

	path := filepath.Join(store.Root(), "2025-01-10", "districts", "district_42.json")
	file := districtFile{
		Metadata: fileMetadata{
			FileVersions: model.FileVersions{Schema: "99.0.0", Calculation: "1.0.0", Ranking: "1.0.0"},
			GeneratedAt:  time.Now(),
		},
		District: testStats("42"),
	}
	require.NoError(t, fsio.WriteJSONAtomic(path, file))

	_, err := store.ReadDistrictData("2025-01-10", "42")
	require.Error(t, err)
	assert.Equal(t, errs.KindSchemaIncompatible, errs.KindOf(err))
}

func TestStore_PathTraversalGuard(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.ReadDistrictData("2025-01-10", "../../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	_, err = store.Manifest("../outside")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestStore_ListDistrictsInSnapshot(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.WriteDistrictData("2025-01-10", testStats("42")))
	require.NoError(t, store.WriteDistrictData("2025-01-10", testStats("7")))

	ids, err := store.ListDistrictsInSnapshot("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "7"}, ids)
}

func TestStore_ManifestRoundtripAndSummary(t *testing.T) {
	store := NewStore(t.TempDir())

	m := &Manifest{
		SnapshotID:          "2025-01-10",
		Versions:            model.CurrentVersions(),
		CreatedAt:           time.Now().UTC(),
		Status:              StatusPartial,
		ConfiguredDistricts: []string{"42", "7", "61"},
		SuccessfulDistricts: []string{"42", "7"},
		FailedDistricts:     []string{"61"},
		DataAsOfDate:        "2025-01-10",
		WriteComplete:       true,
	}
	require.NoError(t, store.WriteManifest(m))

	loaded, err := store.Manifest("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, m.SuccessfulDistricts, loaded.SuccessfulDistricts)

	meta, err := store.SnapshotMetadata("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.DistrictCount)
	assert.Equal(t, 2, meta.SuccessfulDistricts)
	assert.Equal(t, StatusPartial, meta.Status)
}

func TestStore_ListSnapshotIDsReadsNoManifest(t *testing.T) {
	store := NewStore(t.TempDir())

	// Directories only; one has no manifest at all and one is junk.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "2025-01-10"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "2025-01-11"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "scratch"), 0o755))

	ids, err := store.ListSnapshotIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10", "2025-01-11"}, ids)
}

func TestStore_SnapshotMetadataBatchSkipsUnreadable(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.WriteManifest(&Manifest{
		SnapshotID: "2025-01-10", Status: StatusSuccess, Versions: model.CurrentVersions(),
	}))

	metadata, err := store.SnapshotMetadataBatch([]string{"2025-01-10", "2025-01-11"})
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, "2025-01-10", metadata[0].SnapshotID)
}

func TestStore_RankingsArtifact(t *testing.T) {
	store := NewStore(t.TempDir())

	assert.False(t, store.HasAllDistrictsRankings("2025-01-10"))

	clubs := 5.0
	rankings := []rank.Ranked{{DistrictID: "42", ClubGrowthPercent: &clubs, ClubsRank: 1, AggregateScore: 9}}
	require.NoError(t, store.WriteAllDistrictsRankings("2025-01-10", rankings))

	assert.True(t, store.HasAllDistrictsRankings("2025-01-10"))

	loaded, err := store.ReadAllDistrictsRankings("2025-01-10")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "42", loaded[0].DistrictID)
	assert.Equal(t, 9, loaded[0].AggregateScore)
}

func TestStore_DeleteDistrictDataIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.WriteDistrictData("2025-01-10", testStats("42")))

	require.NoError(t, store.DeleteDistrictData("2025-01-10", "42"))
	require.NoError(t, store.DeleteDistrictData("2025-01-10", "42"))

	_, err := store.ReadDistrictData("2025-01-10", "42")
	assert.Equal(t, errs.KindMissingData, errs.KindOf(err))
}
