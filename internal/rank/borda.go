// Package rank computes district rankings from the all-districts
// summary using Borda-count aggregation across three percentage-ranked
// categories. Ranking is competition style: tied values share a rank
// and the next distinct value skips by the tie group's size (1,1,3).
package rank

import (
	"math"
	"sort"
)

// Row is one district's ranking inputs. All three values are
// percentages; ranking on absolute counts is a bug. Nil means the
// column was empty for the district.
type Row struct {
	DistrictID           string   `json:"districtId"`
	ClubGrowthPercent    *float64 `json:"clubGrowthPercent"`
	PaymentGrowthPercent *float64 `json:"paymentGrowthPercent"`
	DistinguishedPercent *float64 `json:"distinguishedPercent"`
}

// Ranked is one district's computed ranking row.
type Ranked struct {
	DistrictID           string   `json:"districtId"`
	ClubGrowthPercent    *float64 `json:"clubGrowthPercent"`
	PaymentGrowthPercent *float64 `json:"paymentGrowthPercent"`
	DistinguishedPercent *float64 `json:"distinguishedPercent"`

	ClubsRank         int `json:"clubsRank"`
	PaymentsRank      int `json:"paymentsRank"`
	DistinguishedRank int `json:"distinguishedRank"`

	ClubsPoints         int `json:"clubsPoints"`
	PaymentsPoints      int `json:"paymentsPoints"`
	DistinguishedPoints int `json:"distinguishedPoints"`

	AggregateScore int `json:"aggregateScore"`
}

// Compute ranks every row in each category independently, assigns Borda
// points (N-rank+1), and orders the result by aggregate score
// descending. Final-order ties stay in input order.
func Compute(rows []Row) []Ranked {
	n := len(rows)
	ranked := make([]Ranked, n)
	for i, row := range rows {
		ranked[i] = Ranked{
			DistrictID:           row.DistrictID,
			ClubGrowthPercent:    row.ClubGrowthPercent,
			PaymentGrowthPercent: row.PaymentGrowthPercent,
			DistinguishedPercent: row.DistinguishedPercent,
		}
	}

	assignCategory(ranked,
		func(r *Ranked) float64 { return sortValue(r.ClubGrowthPercent) },
		func(r *Ranked, rank int) { r.ClubsRank, r.ClubsPoints = rank, n-rank+1 })
	assignCategory(ranked,
		func(r *Ranked) float64 { return sortValue(r.PaymentGrowthPercent) },
		func(r *Ranked, rank int) { r.PaymentsRank, r.PaymentsPoints = rank, n-rank+1 })
	assignCategory(ranked,
		func(r *Ranked) float64 { return sortValue(r.DistinguishedPercent) },
		func(r *Ranked, rank int) { r.DistinguishedRank, r.DistinguishedPoints = rank, n-rank+1 })

	for i := range ranked {
		ranked[i].AggregateScore = ranked[i].ClubsPoints + ranked[i].PaymentsPoints + ranked[i].DistinguishedPoints
	}

	// Stable keeps input order for equal aggregate scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AggregateScore > ranked[j].AggregateScore
	})
	return ranked
}

// assignCategory applies competition ranking over one category.
func assignCategory(ranked []Ranked, value func(*Ranked) float64, assign func(*Ranked, int)) {
	order := make([]int, len(ranked))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return value(&ranked[order[a]]) > value(&ranked[order[b]])
	})

	prev := math.Inf(1)
	rank := 0
	for pos, idx := range order {
		v := value(&ranked[idx])
		if v != prev {
			rank = pos + 1
			prev = v
		}
		assign(&ranked[idx], rank)
	}
}

// sortValue maps missing or NaN inputs to -Inf so they rank last.
func sortValue(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return math.Inf(-1)
	}
	return *v
}
