package cloudspending

import (
	"math"
	"sort"

	lo "github.com/samber/lo"
)

// Total sums the cost of every record.
func Total(records []CostRecord) float64 {
	return lo.SumBy(records, func(r CostRecord) float64 { return r.Cost })
}

// DailyTotals folds records sharing a date label into one DailyCost, sorted
// chronologically with UnknownDate last. Normalize itself never aggregates;
// this is for callers that want one point per day.
func DailyTotals(records []CostRecord) []DailyCost {
	groups := lo.GroupBy(records, func(r CostRecord) string { return r.Date })
	out := make([]DailyCost, 0, len(groups))
	for date, rs := range groups {
		out = append(out, DailyCost{
			Date:    date,
			Cost:    RoundCents(Total(rs)),
			Records: len(rs),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Date == UnknownDate) != (out[j].Date == UnknownDate) {
			return out[j].Date == UnknownDate
		}
		return out[i].Date < out[j].Date
	})
	return out
}

// RoundCents rounds an amount to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
