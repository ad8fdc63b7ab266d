package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/pkg/contracts/domain"
)

func records(loc string, amounts ...float64) []domain.ExtractionRecord {
	cats := []string{"Food", "Drinks", "Food", ""}
	out := make([]domain.ExtractionRecord, len(amounts))
	for i, a := range amounts {
		out[i] = domain.ExtractionRecord{
			Location:   loc,
			ItemName:   "item",
			Category:   cats[i%len(cats)],
			Quantity:   1,
			GrossSales: a,
			Date:       "2024-03-01",
		}
	}
	return out
}

func TestLocationResult(t *testing.T) {
	t.Run("success sums in cents", func(t *testing.T) {
		res := LocationResult(domain.LocationOutcome{
			Location: domain.Location{Name: "Downtown"},
			Records:  records("Downtown", 0.1, 0.2, 0.3, 10.01),
			Duration: 1500 * time.Millisecond,
		})
		assert.True(t, res.Success)
		assert.Equal(t, 4, res.ItemCount)
		assert.Equal(t, 10.61, res.TotalSales)
		assert.Equal(t, []string{"Drinks", "Food"}, res.Categories)
		assert.Equal(t, int64(1500), res.DurationMS)
		assert.Empty(t, res.Error)
	})

	t.Run("failure carries error and no data", func(t *testing.T) {
		res := LocationResult(domain.LocationOutcome{
			Location: domain.Location{Name: "Airport"},
			Records:  records("Airport", 5),
			Err:      errors.New("download timed out"),
		})
		assert.False(t, res.Success)
		assert.Equal(t, "download timed out", res.Error)
		assert.Zero(t, res.ItemCount)
		assert.Zero(t, res.TotalSales)
		assert.Nil(t, res.Records)
	})

	t.Run("empty success", func(t *testing.T) {
		res := LocationResult(domain.LocationOutcome{Location: domain.Location{Name: "Harbor"}})
		assert.True(t, res.Success)
		assert.Zero(t, res.ItemCount)
		assert.Nil(t, res.Categories)
	})
}

func TestTotalMatchesRoundedSum(t *testing.T) {
	amounts := []float64{}
	sum := 0.0
	for i := 0; i < 1000; i++ {
		a := float64(i%97) + 0.01*float64(i%100)
		a = Round2(a)
		amounts = append(amounts, a)
		sum += a
	}
	res := LocationResult(domain.LocationOutcome{Records: records("x", amounts...)})
	assert.Equal(t, Round2(sum), res.TotalSales)
}

func TestAggregateAndSummarize(t *testing.T) {
	outcomes := []domain.LocationOutcome{
		{Location: domain.Location{Name: "A"}, Records: records("A", 1, 2, 3, 4, 5)},
		{Location: domain.Location{Name: "B"}, Err: errors.New("timeout")},
		{Location: domain.Location{Name: "C"}, Records: records("C", 1, 1, 1, 1, 1, 1, 1)},
	}

	results := Aggregate(outcomes)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{results[0].Location, results[1].Location, results[2].Location})
	assert.Equal(t, 5, results[0].ItemCount)
	assert.False(t, results[1].Success)
	assert.Equal(t, 7, results[2].ItemCount)

	summary := Summarize("2024-03-01", results)
	assert.Equal(t, 12, summary.TotalItems)
	assert.Equal(t, 22.0, summary.TotalSales)
	assert.Equal(t, 2, summary.SuccessfulLocations)
	assert.Equal(t, 1, summary.FailedLocations)
	assert.Equal(t, "2024-03-01", summary.ReportDate)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(1001), ToCents(10.01))
	assert.Equal(t, int64(-250), ToCents(-2.5))
	assert.Equal(t, 0.3, FromCents(ToCents(0.1)+ToCents(0.2)))
	assert.Equal(t, 1.24, Round2(1.236))
}
