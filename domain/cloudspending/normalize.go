package cloudspending

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	lo "github.com/samber/lo"
)

// UnknownDate labels rows where no recognized date column is present.
const UnknownDate = "Unknown"

// Column names are tried in order; the first one present in a row wins.
// The Cost Management API names them differently depending on the query
// shape (daily vs. detailed, actual vs. amortized).
var (
	DateFields = []string{"UsageDate", "UsageDateTime", "UsageDateKey", "Date", "date"}
	CostFields = []string{"PreTaxCost", "Cost", "CostUSD", "TotalCost", "totalCost"}
)

// NormalizeReport counts rows that were kept but degraded.
type NormalizeReport struct {
	Rows         int `json:"rows"`
	UnknownDates int `json:"unknownDates"`
	ZeroedCosts  int `json:"zeroedCosts"`
}

// Degraded reports whether any row lost its date or cost.
func (r NormalizeReport) Degraded() bool {
	return r.UnknownDates > 0 || r.ZeroedCosts > 0
}

// Normalize converts the upstream table into one CostRecord per row.
func Normalize(payload *RawBillingPayload) []CostRecord {
	records, _ := NormalizeWithReport(payload)
	return records
}

// NormalizeWithReport is Normalize plus a count of degraded rows. It never
// fails and never drops a row: missing dates become UnknownDate and missing
// or unparseable costs become 0.
func NormalizeWithReport(payload *RawBillingPayload) ([]CostRecord, NormalizeReport) {
	var report NormalizeReport
	if payload == nil || payload.Properties == nil {
		return []CostRecord{}, report
	}
	props := payload.Properties
	if len(props.Columns) == 0 || len(props.Rows) == 0 {
		return []CostRecord{}, report
	}

	names := lo.Map(props.Columns, func(c Column, _ int) string { return c.Name })
	records := make([]CostRecord, 0, len(props.Rows))
	for _, row := range props.Rows {
		record := zipRow(names, row)

		date := UnknownDate
		if v, ok := firstPresent(record, DateFields); ok {
			date = formatDate(v)
		} else {
			report.UnknownDates++
		}

		var cost float64
		if v, ok := firstPresent(record, CostFields); ok {
			if f, ok := toCost(v); ok {
				cost = f
			} else {
				report.ZeroedCosts++
			}
		} else {
			report.ZeroedCosts++
		}

		records = append(records, CostRecord{Date: date, Cost: cost})
	}
	report.Rows = len(records)
	return records, report
}

func zipRow(names []string, row []any) map[string]any {
	record := make(map[string]any, len(names))
	for i, name := range names {
		if i >= len(row) {
			break
		}
		record[name] = row[i]
	}
	return record
}

func firstPresent(record map[string]any, fields []string) (any, bool) {
	name, ok := lo.Find(fields, func(f string) bool {
		v, ok := record[f]
		return ok && v != nil
	})
	if !ok {
		return nil, false
	}
	return record[name], true
}

// formatDate turns an integer YYYYMMDD into YYYY-MM-DD and passes every
// other value through as text.
func formatDate(v any) string {
	if n, ok := toInteger(v); ok && n >= 10000000 && n <= 99999999 {
		return fmt.Sprintf("%04d-%02d-%02d", n/10000, n/100%100, n%100)
	}
	switch d := v.(type) {
	case string:
		return d
	case json.Number:
		return d.String()
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	}
	return 0, false
}

// toCost coerces a cost cell. Only finite, non-negative numbers are accepted.
func toCost(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// CoerceAmount applies the cost coercion rules to a single value, returning
// 0 for anything that is not a usable amount.
func CoerceAmount(v any) float64 {
	f, _ := toCost(v)
	return f
}
