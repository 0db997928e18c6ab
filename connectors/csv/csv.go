package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"cost-dashboard/domain/cloudspending"
)

// SubscriptionRecords pairs a subscription with its normalized records.
type SubscriptionRecords struct {
	SubscriptionID string
	Records        []cloudspending.CostRecord
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// WriteCostRecords writes one row per record, preserving record order.
// Headers: subscription_id, date, cost
func WriteCostRecords(path string, sets []SubscriptionRecords) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"subscription_id", "date", "cost"}); err != nil {
		return err
	}
	for _, set := range sets {
		for _, r := range set.Records {
			row := []string{set.SubscriptionID, r.Date, strconv.FormatFloat(r.Cost, 'f', -1, 64)}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// ReadCostRecords loads a file written by WriteCostRecords, grouped by
// subscription in first-seen order. Unparseable costs read as 0.
func ReadCostRecords(path string) ([]SubscriptionRecords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCostRecords(f)
}

func readCostRecords(r io.Reader) ([]SubscriptionRecords, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[h] = i
	}
	subIdx, okSub := idx["subscription_id"]
	dateIdx, okDate := idx["date"]
	costIdx, okCost := idx["cost"]
	if !okSub || !okDate || !okCost {
		return nil, fmt.Errorf("missing required columns: want subscription_id, date, cost")
	}

	var out []SubscriptionRecords
	pos := map[string]int{}
	for _, row := range rows[1:] {
		if len(row) <= subIdx || len(row) <= dateIdx || len(row) <= costIdx {
			continue
		}
		sub := row[subIdx]
		i, ok := pos[sub]
		if !ok {
			i = len(out)
			pos[sub] = i
			out = append(out, SubscriptionRecords{SubscriptionID: sub})
		}
		out[i].Records = append(out[i].Records, cloudspending.CostRecord{
			Date: row[dateIdx],
			Cost: cloudspending.CoerceAmount(row[costIdx]),
		})
	}
	return out, nil
}

// WriteDailyTotals writes per-subscription daily sums.
// Headers: subscription_id, date, cost, records
func WriteDailyTotals(path string, sets []SubscriptionRecords) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"subscription_id", "date", "cost", "records"}); err != nil {
		return err
	}
	for _, set := range sets {
		for _, d := range cloudspending.DailyTotals(set.Records) {
			row := []string{set.SubscriptionID, d.Date, fmt.Sprintf("%.2f", d.Cost), strconv.Itoa(d.Records)}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// WriteInvoices writes monthly totals.
// Headers: month, total
func WriteInvoices(path string, invoices []cloudspending.InvoiceRecord) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"month", "total"}); err != nil {
		return err
	}
	for _, inv := range invoices {
		if err := w.Write([]string{inv.Month, fmt.Sprintf("%.2f", inv.Total)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
