package build

import (
	"sort"
	"time"

	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/rank"
	"github.com/clubmetrics/districtrun/internal/snapshot"
)

// analyticsMetadata is the version stamp on every analytics artifact.
type analyticsMetadata struct {
	SchemaVersion string    `json:"schemaVersion"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// MembershipAnalytics is the per-district membership artifact.
type MembershipAnalytics struct {
	Metadata   analyticsMetadata      `json:"metadata"`
	DistrictID string                 `json:"districtId"`
	AsOfDate   string                 `json:"asOfDate"`
	Membership model.MembershipStats  `json:"membership"`
	TopClubs   []model.ClubMembership `json:"topClubs"`
}

// ClubHealthAnalytics is the per-district club health artifact.
type ClubHealthAnalytics struct {
	Metadata             analyticsMetadata `json:"metadata"`
	DistrictID           string            `json:"districtId"`
	AsOfDate             string            `json:"asOfDate"`
	Clubs                model.ClubStats   `json:"clubs"`
	HealthyPercent       float64           `json:"healthyPercent"`
	DistinguishedPercent float64           `json:"distinguishedPercent"`
}

// DistrictAnalytics is the per-district combined artifact, including
// the district's ranking row when the global summary covered it.
type DistrictAnalytics struct {
	Metadata   analyticsMetadata     `json:"metadata"`
	DistrictID string                `json:"districtId"`
	AsOfDate   string                `json:"asOfDate"`
	Membership model.MembershipStats `json:"membership"`
	Clubs      model.ClubStats       `json:"clubs"`
	Education  model.EducationStats  `json:"education"`
	Ranking    *rank.Ranked          `json:"ranking,omitempty"`
}

// analyticsManifest lists the artifacts written for one snapshot.
type analyticsManifest struct {
	Metadata analyticsMetadata `json:"metadata"`
	Files    []string          `json:"files"`
}

func newAnalyticsMetadata(now time.Time) analyticsMetadata {
	return analyticsMetadata{SchemaVersion: model.SchemaVersion, GeneratedAt: now}
}

// writeDistrictAnalytics persists the three per-district analytics
// artifacts and returns their file names.
func writeDistrictAnalytics(store *snapshot.Store, snapshotID string, stats model.DistrictStatistics, ranking *rank.Ranked, now time.Time) ([]string, error) {
	id := stats.DistrictID
	meta := newAnalyticsMetadata(now)

	membership := MembershipAnalytics{
		Metadata:   meta,
		DistrictID: id,
		AsOfDate:   stats.AsOfDate,
		Membership: stats.Membership,
		TopClubs:   topClubsByMembers(stats.Membership.ByClub, 5),
	}

	health := ClubHealthAnalytics{
		Metadata:   meta,
		DistrictID: id,
		AsOfDate:   stats.AsOfDate,
		Clubs:      stats.Clubs,
	}
	if stats.Clubs.Total > 0 {
		health.HealthyPercent = round2(float64(stats.Clubs.Active) / float64(stats.Clubs.Total) * 100)
		health.DistinguishedPercent = round2(float64(stats.Clubs.DistinguishedTotal()) / float64(stats.Clubs.Total) * 100)
	}

	combined := DistrictAnalytics{
		Metadata:   meta,
		DistrictID: id,
		AsOfDate:   stats.AsOfDate,
		Membership: stats.Membership,
		Clubs:      stats.Clubs,
		Education:  stats.Education,
		Ranking:    ranking,
	}

	files := []struct {
		name string
		v    any
	}{
		{"district_" + id + "_membership.json", membership},
		{"district_" + id + "_clubhealth.json", health},
		{"district_" + id + "_analytics.json", combined},
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := store.WriteAnalytics(snapshotID, f.name, f.v); err != nil {
			return names, err
		}
		names = append(names, f.name)
	}
	return names, nil
}

func topClubsByMembers(clubs []model.ClubMembership, n int) []model.ClubMembership {
	top := make([]model.ClubMembership, len(clubs))
	copy(top, clubs)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Members > top[j].Members })
	if len(top) > n {
		top = top[:n]
	}
	return top
}
