package cloudspending

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(columns []string, rows ...[]any) *RawBillingPayload {
	cols := make([]Column, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, Column{Name: c})
	}
	return &RawBillingPayload{Properties: &Properties{Columns: cols, Rows: rows}}
}

func TestNormalize_DocumentedScenario(t *testing.T) {
	body := []byte(`{"properties":{"columns":[{"name":"UsageDate"},{"name":"PreTaxCost"}],"rows":[[20250102, 3.5],[20250103, "bad"]]}}`)
	p, err := DecodePayload(body)
	require.NoError(t, err)

	records, report := NormalizeWithReport(p)

	assert.Equal(t, []CostRecord{
		{Date: "2025-01-02", Cost: 3.5},
		{Date: "2025-01-03", Cost: 0},
	}, records)
	assert.Equal(t, NormalizeReport{Rows: 2, ZeroedCosts: 1}, report)
	assert.True(t, report.Degraded())
}

func TestNormalize_EmptyPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload *RawBillingPayload
	}{
		{"nil payload", nil},
		{"missing properties", &RawBillingPayload{Message: "No cost data found for the current month."}},
		{"no rows", payload([]string{"UsageDate", "PreTaxCost"})},
		{"no columns", &RawBillingPayload{Properties: &Properties{Rows: [][]any{{1, 2}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Normalize(tt.payload)
			require.NotNil(t, records)
			assert.Empty(t, records)
		})
	}
}

func TestNormalize_PreservesCardinalityAndOrder(t *testing.T) {
	p := payload([]string{"UsageDate", "PreTaxCost"},
		[]any{"2025-01-03", 1.0},
		[]any{"2025-01-01", 2.0},
		[]any{"2025-01-03", 3.0},
		[]any{nil, nil},
	)

	records := Normalize(p)

	require.Len(t, records, 4)
	assert.Equal(t, "2025-01-03", records[0].Date)
	assert.Equal(t, "2025-01-01", records[1].Date)
	assert.Equal(t, 3.0, records[2].Cost, "duplicates are kept")
	assert.Equal(t, UnknownDate, records[3].Date)
}

func TestNormalize_DateResolution(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		row     []any
		want    string
	}{
		{"integer yyyymmdd", []string{"UsageDate"}, []any{float64(20250115)}, "2025-01-15"},
		{"json number yyyymmdd", []string{"UsageDate"}, []any{json.Number("20250115")}, "2025-01-15"},
		{"string passes through", []string{"UsageDate"}, []any{"2025-09-01"}, "2025-09-01"},
		{"digit string passes through", []string{"UsageDate"}, []any{"20250115"}, "20250115"},
		{"datetime fallback", []string{"UsageDateTime"}, []any{"2025-01-15T00:00:00"}, "2025-01-15T00:00:00"},
		{"date key fallback", []string{"UsageDateKey"}, []any{json.Number("20241231")}, "2024-12-31"},
		{"generic date", []string{"date"}, []any{"2025-02-01"}, "2025-02-01"},
		{"priority order", []string{"Date", "UsageDate"}, []any{"2025-03-01", json.Number("20250302")}, "2025-03-02"},
		{"null skips to next field", []string{"UsageDate", "Date"}, []any{nil, "2025-04-01"}, "2025-04-01"},
		{"non 8-digit number", []string{"UsageDate"}, []any{json.Number("202501")}, "202501"},
		{"missing", []string{"Region"}, []any{"westeurope"}, UnknownDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Normalize(payload(append(tt.columns, "PreTaxCost"), append(tt.row, 1.0)))
			require.Len(t, records, 1)
			assert.Equal(t, tt.want, records[0].Date)
		})
	}
}

func TestNormalize_CostResolution(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		row     []any
		want    float64
	}{
		{"pre-tax cost", []string{"PreTaxCost"}, []any{12.25}, 12.25},
		{"numeric string", []string{"PreTaxCost"}, []any{"7.5"}, 7.5},
		{"json number", []string{"Cost"}, []any{json.Number("0.125")}, 0.125},
		{"cost usd fallback", []string{"CostUSD"}, []any{4.0}, 4.0},
		{"total cost fallback", []string{"totalCost"}, []any{9.0}, 9.0},
		{"pre-tax wins over cost", []string{"Cost", "PreTaxCost"}, []any{1.0, 2.0}, 2.0},
		{"garbage", []string{"PreTaxCost"}, []any{"n/a"}, 0},
		{"bool", []string{"PreTaxCost"}, []any{true}, 0},
		{"negative", []string{"PreTaxCost"}, []any{-3.0}, 0},
		{"nan string", []string{"PreTaxCost"}, []any{"NaN"}, 0},
		{"missing", []string{"Currency"}, []any{"EUR"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Normalize(payload(append([]string{"UsageDate"}, tt.columns...), append([]any{json.Number("20250101")}, tt.row...)))
			require.Len(t, records, 1)
			assert.Equal(t, tt.want, records[0].Cost)
		})
	}
}

func TestNormalize_RaggedRows(t *testing.T) {
	p := payload([]string{"UsageDate", "PreTaxCost", "Currency"},
		[]any{json.Number("20250101")},
		[]any{json.Number("20250102"), 2.0, "EUR", "extra"},
	)

	records, report := NormalizeWithReport(p)

	assert.Equal(t, []CostRecord{
		{Date: "2025-01-01", Cost: 0},
		{Date: "2025-01-02", Cost: 2.0},
	}, records)
	assert.Equal(t, 1, report.ZeroedCosts)
	assert.Zero(t, report.UnknownDates)
}

func TestDecodePayload_Invalid(t *testing.T) {
	_, err := DecodePayload([]byte(`<html>`))
	assert.Error(t, err)
}

func TestDailyTotals(t *testing.T) {
	records := []CostRecord{
		{Date: "2025-01-02", Cost: 1.006},
		{Date: UnknownDate, Cost: 5},
		{Date: "2025-01-01", Cost: 2},
		{Date: "2025-01-02", Cost: 2},
	}

	daily := DailyTotals(records)

	assert.Equal(t, []DailyCost{
		{Date: "2025-01-01", Cost: 2, Records: 1},
		{Date: "2025-01-02", Cost: 3.01, Records: 2},
		{Date: UnknownDate, Cost: 5, Records: 1},
	}, daily)
	assert.InDelta(t, 10.006, Total(records), 1e-9)
}

func TestCoerceAmount(t *testing.T) {
	assert.Equal(t, 123.45, CoerceAmount("123.45"))
	assert.Equal(t, 0.0, CoerceAmount(nil))
	assert.Equal(t, 0.0, CoerceAmount("abc"))
}
