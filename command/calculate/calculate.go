package calculate

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lo "github.com/samber/lo"

	ccsv "cost-dashboard/connectors/csv"
	"cost-dashboard/domain/cloudspending"
)

// Run reads the cost records written by fetch and writes the daily totals
// per subscription.
//
// Usage:
//
//	cost-dashboard calculate [-data ./data]
//
// Reads <data>/cost_records.csv, writes <data>/cost_daily.csv.
func Run(args []string) error {
	fs := flag.NewFlagSet("calculate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	base := fs.String("data", "data", "directory holding the CSV files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, err := calculate(*base)
	return err
}

type summary struct {
	Subscriptions int
	Days          int
	Total         float64
}

func calculate(base string) (summary, error) {
	in := filepath.Join(base, "cost_records.csv")
	sets, err := ccsv.ReadCostRecords(in)
	if err != nil {
		return summary{}, fmt.Errorf("read %s: %w", in, err)
	}

	out := filepath.Join(base, "cost_daily.csv")
	if err := ccsv.WriteDailyTotals(out, sets); err != nil {
		return summary{}, fmt.Errorf("write %s: %w", out, err)
	}

	days := lo.SumBy(sets, func(s ccsv.SubscriptionRecords) int {
		return len(cloudspending.DailyTotals(s.Records))
	})
	total := cloudspending.RoundCents(lo.SumBy(sets, func(s ccsv.SubscriptionRecords) float64 {
		return cloudspending.Total(s.Records)
	}))
	slog.Info("calculate.done", "subscriptions", len(sets), "days", days, "total", total, "output", out)
	return summary{Subscriptions: len(sets), Days: days, Total: total}, nil
}
