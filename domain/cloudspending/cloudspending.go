package cloudspending

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// BillingQuery identifies the subscription to query and an optional date range.
// A query without SubscriptionID is a no-op.
type BillingQuery struct {
	SubscriptionID string
	From           *time.Time
	To             *time.Time
}

// IsEmpty reports whether the query has nothing to fetch.
func (q BillingQuery) IsEmpty() bool {
	return q.SubscriptionID == ""
}

// Column is one entry of the upstream column list.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Properties carries the column-oriented table returned by the billing API.
// Rows are rows x columns of mixed primitive values.
type Properties struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RawBillingPayload is the upstream billing response as received.
type RawBillingPayload struct {
	Properties *Properties `json:"properties,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// DecodePayload parses a billing response body. Numbers are kept as
// json.Number so integer dates like 20250115 survive intact.
func DecodePayload(b []byte) (*RawBillingPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p RawBillingPayload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode billing payload: %w", err)
	}
	return &p, nil
}

// CostRecord is one normalized (date, cost) pair. Date is a calendar-date
// label or "Unknown"; Cost is never negative.
type CostRecord struct {
	Date string  `json:"date"`
	Cost float64 `json:"cost"`
}

// DailyCost is the sum of every record sharing a date label.
type DailyCost struct {
	Date    string  `json:"date"`
	Cost    float64 `json:"cost"`
	Records int     `json:"records"`
}

// Subscription is an account the signed-in identity can query.
type Subscription struct {
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
}

// InvoiceRecord is a monthly billed total.
type InvoiceRecord struct {
	Month string  `json:"month"`
	Total float64 `json:"total"`
}
