package model

// ReportKind identifies one of the dashboard report types.
type ReportKind string

const (
	KindAllDistricts        ReportKind = "all-districts"
	KindDistrictPerformance ReportKind = "district-performance"
	KindDivisionPerformance ReportKind = "division-performance"
	KindClubPerformance     ReportKind = "club-performance"
)

// PerDistrictKinds returns the three report kinds fetched per district,
// in cache write order.
func PerDistrictKinds() []ReportKind {
	return []ReportKind{KindDistrictPerformance, KindDivisionPerformance, KindClubPerformance}
}

// FileName returns the on-disk CSV name for a kind.
func (k ReportKind) FileName() string {
	return string(k) + ".csv"
}

// PerDistrict reports whether the kind is fetched per district rather
// than once per date.
func (k ReportKind) PerDistrict() bool {
	return k != KindAllDistricts
}

// DateFormat is the canonical date layout used for cache directories,
// snapshot ids, and index keys.
const DateFormat = "2006-01-02"
