package rank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func row(id string, clubs, payments, distinguished float64) Row {
	return Row{
		DistrictID:           id,
		ClubGrowthPercent:    ptr(clubs),
		PaymentGrowthPercent: ptr(payments),
		DistinguishedPercent: ptr(distinguished),
	}
}

// Three districts with a tie in club growth; expected ranks, Borda
// points, and final ordering are fully pinned down.
func TestCompute_ThreeDistrictsWithTie(t *testing.T) {
	rows := []Row{
		row("district-1", 5.0, 10, 20),
		row("district-2", 5.0, 8, 30),
		row("district-3", 3.0, 12, 40),
	}

	ranked := Compute(rows)
	require.Len(t, ranked, 3)

	// Aggregate 7 wins; the 6-6 tie stays in input order.
	assert.Equal(t, "district-3", ranked[0].DistrictID)
	assert.Equal(t, "district-1", ranked[1].DistrictID)
	assert.Equal(t, "district-2", ranked[2].DistrictID)

	byID := make(map[string]Ranked, 3)
	for _, r := range ranked {
		byID[r.DistrictID] = r
	}

	d1, d2, d3 := byID["district-1"], byID["district-2"], byID["district-3"]

	assert.Equal(t, []int{1, 1, 3}, []int{d1.ClubsRank, d2.ClubsRank, d3.ClubsRank})
	assert.Equal(t, []int{2, 3, 1}, []int{d1.PaymentsRank, d2.PaymentsRank, d3.PaymentsRank})
	assert.Equal(t, []int{3, 2, 1}, []int{d1.DistinguishedRank, d2.DistinguishedRank, d3.DistinguishedRank})

	assert.Equal(t, []int{3, 3, 1}, []int{d1.ClubsPoints, d2.ClubsPoints, d3.ClubsPoints})
	assert.Equal(t, []int{2, 1, 3}, []int{d1.PaymentsPoints, d2.PaymentsPoints, d3.PaymentsPoints})
	assert.Equal(t, []int{1, 2, 3}, []int{d1.DistinguishedPoints, d2.DistinguishedPoints, d3.DistinguishedPoints})

	assert.Equal(t, 6, d1.AggregateScore)
	assert.Equal(t, 6, d2.AggregateScore)
	assert.Equal(t, 7, d3.AggregateScore)
}

func TestCompute_BordaPointsFormula(t *testing.T) {
	rows := []Row{
		row("a", 4, 1, 1),
		row("b", 3, 2, 2),
		row("c", 2, 3, 3),
		row("d", 1, 4, 4),
	}

	ranked := Compute(rows)
	n := len(rows)
	for _, r := range ranked {
		assert.Equal(t, n-r.ClubsRank+1, r.ClubsPoints)
		assert.Equal(t, n-r.PaymentsRank+1, r.PaymentsPoints)
		assert.Equal(t, n-r.DistinguishedRank+1, r.DistinguishedPoints)
		assert.Equal(t, r.ClubsPoints+r.PaymentsPoints+r.DistinguishedPoints, r.AggregateScore)
	}
}

func TestCompute_MissingAndNaNRankLast(t *testing.T) {
	nan := math.NaN()
	rows := []Row{
		{DistrictID: "missing"},
		row("present", 1, 1, 1),
		{DistrictID: "nan", ClubGrowthPercent: &nan, PaymentGrowthPercent: ptr(2), DistinguishedPercent: ptr(2)},
	}

	ranked := Compute(rows)

	byID := make(map[string]Ranked, 3)
	for _, r := range ranked {
		byID[r.DistrictID] = r
	}

	assert.Equal(t, 1, byID["present"].ClubsRank)
	assert.Equal(t, 2, byID["missing"].ClubsRank, "nil and NaN tie at -Inf")
	assert.Equal(t, 2, byID["nan"].ClubsRank)
	assert.Equal(t, "missing", ranked[2].DistrictID, "all-missing district ranks last overall")
}

func TestCompute_Empty(t *testing.T) {
	assert.Empty(t, Compute(nil))
}

func TestCompute_SingleDistrict(t *testing.T) {
	ranked := Compute([]Row{row("42", 1, 2, 3)})
	require.Len(t, ranked, 1)
	assert.Equal(t, 1, ranked[0].ClubsRank)
	assert.Equal(t, 3, ranked[0].AggregateScore)
}
