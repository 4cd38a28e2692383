package model

import (
	"regexp"
	"time"
)

var districtIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidDistrictID reports whether id is a well-formed district id:
// non-empty and strictly alphanumeric. Date-like artifacts from report
// footers ("As of 1/20/2026") never pass.
func ValidDistrictID(id string) bool {
	return districtIDPattern.MatchString(id)
}

// DistrictStatistics is the validated per-district structure produced
// by the normalizer and persisted per snapshot.
type DistrictStatistics struct {
	DistrictID string          `json:"districtId"`
	AsOfDate   string          `json:"asOfDate"`
	Membership MembershipStats `json:"membership"`
	Clubs      ClubStats       `json:"clubs"`
	Education  EducationStats  `json:"education"`

	// Closing-period stamps. CollectionDate is the cache date the CSVs
	// were fetched under; LogicalDate is the in-report "as of" date when
	// the two differ (month-end closing data).
	CollectionDate      string `json:"collectionDate,omitempty"`
	LogicalDate         string `json:"logicalDate,omitempty"`
	IsClosingPeriodData bool   `json:"isClosingPeriodData,omitempty"`
}

// MembershipStats summarizes payments-based membership for a district.
type MembershipStats struct {
	Total         float64          `json:"total"`
	Change        float64          `json:"change"`
	ChangePercent float64          `json:"changePercent"`
	ByClub        []ClubMembership `json:"byClub"`
}

// ClubMembership is one club's contribution to the membership rollup.
type ClubMembership struct {
	ClubID     string  `json:"clubId"`
	ClubName   string  `json:"clubName"`
	Members    float64 `json:"members"`
	MembersNew float64 `json:"membersNew"`
}

// ClubStats counts clubs by standing.
type ClubStats struct {
	Total                   int `json:"total"`
	Active                  int `json:"active"`
	Suspended               int `json:"suspended"`
	Ineligible              int `json:"ineligible"`
	Low                     int `json:"low"`
	Distinguished           int `json:"distinguished"`
	SelectDistinguished     int `json:"selectDistinguished"`
	PresidentsDistinguished int `json:"presidentsDistinguished"`
}

// EducationStats rolls up education award activity.
type EducationStats struct {
	TotalAwards int          `json:"totalAwards"`
	ByType      []AwardCount `json:"byType"`
	TopClubs    []ClubAwards `json:"topClubs"`
}

// AwardCount is one award type's tally.
type AwardCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ClubAwards is one club's award tally, used for the top-clubs list.
type ClubAwards struct {
	ClubID   string `json:"clubId"`
	ClubName string `json:"clubName"`
	Awards   int    `json:"awards"`
}

// DistinguishedTotal sums the three distinguished tiers.
func (c ClubStats) DistinguishedTotal() int {
	return c.Distinguished + c.SelectDistinguished + c.PresidentsDistinguished
}

// ParseDate parses a canonical YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}
