package build

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/validate"
)

// ClosingPeriod is the detector's verdict for one report set.
type ClosingPeriod struct {
	IsClosing bool
	// LogicalDate is the in-report as-of date; CollectionDate the cache
	// date the CSVs were fetched under. Equal unless closing data.
	LogicalDate    string
	CollectionDate string
}

// DetectClosingPeriod recovers the report's as-of date from footer rows
// ("As of 1/20/2026" in the district column) and compares it to the
// cache date. An as-of date strictly before the cache date means the
// dashboard served the prior month's finalized data.
func DetectClosingPeriod(records []model.CSVRecord, cacheDate string) ClosingPeriod {
	period := ClosingPeriod{LogicalDate: cacheDate, CollectionDate: cacheDate}

	collected, err := model.ParseDate(cacheDate)
	if err != nil {
		return period
	}

	for _, record := range records {
		asOf, ok := validate.AsOfDate(record.DistrictID())
		if !ok {
			continue
		}
		if asOf.Before(collected) {
			period.IsClosing = true
			period.LogicalDate = asOf.Format(model.DateFormat)
		}
		return period
	}
	return period
}

// membershipKeys are the club report columns, in preference order, that
// carry current member counts.
var membershipKeys = []string{"Active Members", "Membership"}

// memberCount reads a club row's member count.
func memberCount(record model.CSVRecord) float64 {
	for _, key := range membershipKeys {
		if v, ok := record.Number(key); ok {
			return v
		}
	}
	return 0
}

// TotalMembers sums member counts across a club report. The backfill
// controller uses it for reconciliation-period detection.
func TotalMembers(clubRecords []model.CSVRecord) float64 {
	var total float64
	for _, record := range clubRecords {
		total += memberCount(record)
	}
	return total
}

// Normalizer converts validated report rows into DistrictStatistics.
type Normalizer struct{}

// Normalize builds one district's statistics from its three reports.
// The records must already have passed the district id validator.
func (Normalizer) Normalize(districtID, cacheDate string, district, division, club []model.CSVRecord) model.DistrictStatistics {
	period := DetectClosingPeriod(district, cacheDate)

	stats := model.DistrictStatistics{
		DistrictID:          districtID,
		AsOfDate:            period.LogicalDate,
		CollectionDate:      period.CollectionDate,
		LogicalDate:         period.LogicalDate,
		IsClosingPeriodData: period.IsClosing,
		Membership:          normalizeMembership(club),
		Clubs:               normalizeClubs(club),
		Education:           normalizeEducation(club),
	}
	return stats
}

func normalizeMembership(club []model.CSVRecord) model.MembershipStats {
	stats := model.MembershipStats{ByClub: []model.ClubMembership{}}
	var base float64

	for _, record := range club {
		members := memberCount(record)
		memBase, _ := record.Number("Mem. Base")
		stats.Total += members
		base += memBase

		stats.ByClub = append(stats.ByClub, model.ClubMembership{
			ClubID:     clubID(record),
			ClubName:   record.String("Club Name"),
			Members:    members,
			MembersNew: members - memBase,
		})
	}

	stats.Change = stats.Total - base
	if base > 0 {
		stats.ChangePercent = round2(stats.Change / base * 100)
	}
	return stats
}

func normalizeClubs(club []model.CSVRecord) model.ClubStats {
	var stats model.ClubStats
	stats.Total = len(club)

	for _, record := range club {
		switch strings.ToLower(record.String("Club Status")) {
		case "suspended":
			stats.Suspended++
		case "ineligible":
			stats.Ineligible++
		case "low":
			stats.Low++
		default:
			stats.Active++
		}

		switch distinguishedCode(record.String("Club Distinguished Status")) {
		case "D":
			stats.Distinguished++
		case "S":
			stats.SelectDistinguished++
		case "P":
			stats.PresidentsDistinguished++
		}
	}
	return stats
}

// distinguishedCode maps the dashboard's status column to its single
// letter code. The column carries either the code or the spelled-out
// tier.
func distinguishedCode(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "d", "distinguished":
		return "D"
	case "s", "select distinguished":
		return "S"
	case "p", "president's distinguished", "presidents distinguished":
		return "P"
	}
	return ""
}

func normalizeEducation(club []model.CSVRecord) model.EducationStats {
	stats := model.EducationStats{ByType: []model.AwardCount{}, TopClubs: []model.ClubAwards{}}
	byType := make(map[string]int)

	for _, record := range club {
		var clubTotal int
		for key := range record {
			if !strings.HasSuffix(key, " Awards") || key == "Total Awards" {
				continue
			}
			if v, ok := record.Number(key); ok && v > 0 {
				awardType := strings.TrimSuffix(key, " Awards")
				byType[awardType] += int(v)
				clubTotal += int(v)
			}
		}
		if clubTotal == 0 {
			if v, ok := record.Number("Total Awards"); ok {
				clubTotal = int(v)
			}
		}
		stats.TotalAwards += clubTotal
		if clubTotal > 0 {
			stats.TopClubs = append(stats.TopClubs, model.ClubAwards{
				ClubID:   clubID(record),
				ClubName: record.String("Club Name"),
				Awards:   clubTotal,
			})
		}
	}

	types := make([]string, 0, len(byType))
	for awardType := range byType {
		types = append(types, awardType)
	}
	sort.Strings(types)
	for _, awardType := range types {
		stats.ByType = append(stats.ByType, model.AwardCount{Type: awardType, Count: byType[awardType]})
	}

	sort.SliceStable(stats.TopClubs, func(i, j int) bool {
		return stats.TopClubs[i].Awards > stats.TopClubs[j].Awards
	})
	if len(stats.TopClubs) > 5 {
		stats.TopClubs = stats.TopClubs[:5]
	}
	return stats
}

// clubID reads the club number column, which parses as a float.
func clubID(record model.CSVRecord) string {
	for _, key := range []string{"Club Number", "Club"} {
		switch v := record[key].(type) {
		case float64:
			return strconv.FormatInt(int64(v), 10)
		case string:
			if v != "" {
				return v
			}
		}
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
