// Package aggregate reduces per-location outcomes into the job result.
package aggregate

import (
	"math"
	"sort"
	"strings"

	"posextract/pkg/contracts/domain"
)

// ToCents converts an amount to integer cents, rounding half away from zero.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromCents converts integer cents back to a 2-decimal amount.
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LocationResult summarizes one location's outcome. A non-nil Err marks the
// location failed regardless of any records.
func LocationResult(o domain.LocationOutcome) domain.LocationResult {
	res := domain.LocationResult{
		Location:     o.Location.Name,
		InvalidCount: o.InvalidCount,
		DurationMS:   o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		res.Error = o.Err.Error()
		return res
	}

	var cents int64
	categories := make(map[string]struct{})
	for _, rec := range o.Records {
		cents += ToCents(rec.GrossSales)
		if c := strings.TrimSpace(rec.Category); c != "" {
			categories[c] = struct{}{}
		}
	}

	res.Success = true
	res.ItemCount = len(o.Records)
	res.TotalSales = FromCents(cents)
	res.Categories = sortedKeys(categories)
	res.Records = o.Records
	return res
}

// Aggregate summarizes outcomes in the order given.
func Aggregate(outcomes []domain.LocationOutcome) []domain.LocationResult {
	results := make([]domain.LocationResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, LocationResult(o))
	}
	return results
}

// Summarize builds the job-level result. Totals only count successful
// locations.
func Summarize(reportDate string, results []domain.LocationResult) domain.JobResult {
	out := domain.JobResult{
		ReportDate:      reportDate,
		LocationResults: results,
	}
	var cents int64
	for _, r := range results {
		if !r.Success {
			out.FailedLocations++
			continue
		}
		out.SuccessfulLocations++
		out.TotalItems += r.ItemCount
		cents += ToCents(r.TotalSales)
	}
	out.TotalSales = FromCents(cents)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
