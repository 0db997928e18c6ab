package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
)

const (
	// DefaultManagementURL is the public-cloud Azure Resource Manager endpoint.
	DefaultManagementURL = "https://management.azure.com"

	costQueryAPIVersion     = "2023-03-01"
	subscriptionsAPIVersion = "2020-01-01"
)

// Client handles Azure Cost Management API requests with a caller-supplied
// bearer token. It plays the same role as the dashboard API, without the
// function app in between.
type Client struct {
	managementURL string
	httpClient    *http.Client
}

// NewClient creates a new Azure Cost Management API client. An empty
// managementURL selects DefaultManagementURL.
func NewClient(httpClient *http.Client, managementURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if managementURL == "" {
		managementURL = DefaultManagementURL
	}
	return &Client{
		managementURL: strings.TrimRight(managementURL, "/"),
		httpClient:    httpClient,
	}
}

// costQueryRequest represents the request body for Azure Cost Management Query API
type costQueryRequest struct {
	Type       string         `json:"type"`
	Timeframe  string         `json:"timeframe"`
	TimePeriod *timePeriod    `json:"timePeriod,omitempty"`
	Dataset    datasetRequest `json:"dataset"`
}

type timePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type datasetRequest struct {
	Granularity string            `json:"granularity"`
	Aggregation map[string]aggDef `json:"aggregation"`
}

type aggDef struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

// dailyCostQuery builds the ActualCost / Daily / Sum(PreTaxCost) query for
// the month to date, or for the query's range when it has one.
func dailyCostQuery(q cloudspending.BillingQuery) costQueryRequest {
	req := costQueryRequest{
		Type:      "ActualCost",
		Timeframe: "MonthToDate",
		Dataset: datasetRequest{
			Granularity: "Daily",
			Aggregation: map[string]aggDef{
				"totalCost": {Name: "PreTaxCost", Function: "Sum"},
			},
		},
	}
	if q.From != nil || q.To != nil {
		to := time.Now()
		if q.To != nil {
			to = *q.To
		}
		from := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, to.Location())
		if q.From != nil {
			from = *q.From
		}
		req.Timeframe = "Custom"
		req.TimePeriod = &timePeriod{From: from.Format("2006-01-02"), To: to.Format("2006-01-02")}
	}
	return req
}

// monthlyCostQuery asks for billed totals per month over the last N months.
func monthlyCostQuery(months int) costQueryRequest {
	to := time.Now()
	from := to.AddDate(0, -months, 0)
	return costQueryRequest{
		Type:      "ActualCost",
		Timeframe: "Custom",
		TimePeriod: &timePeriod{
			From: from.Format("2006-01-02"),
			To:   to.Format("2006-01-02"),
		},
		Dataset: datasetRequest{
			Granularity: "Monthly",
			Aggregation: map[string]aggDef{
				"totalCost": {Name: "Cost", Function: "Sum"},
			},
		},
	}
}

func (c *Client) query(ctx context.Context, subscriptionID string, body costQueryRequest, token auth.AccessToken) (*cloudspending.RawBillingPayload, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, &cloudspending.FetchError{Message: fmt.Sprintf("failed to marshal request: %v", err), Err: err}
	}

	url := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		c.managementURL, subscriptionID, costQueryAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &cloudspending.FetchError{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	req.Header.Set("Authorization", token.AuthorizationHeader())
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	payload, err := cloudspending.DecodePayload(respBody)
	if err != nil {
		return nil, &cloudspending.FetchError{Status: http.StatusOK, Message: err.Error(), Err: err}
	}
	return payload, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &cloudspending.FetchError{Status: cloudspending.StatusNone, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &cloudspending.FetchError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("azure.api.error", "path", req.URL.Path, "status", resp.StatusCode)
		return nil, &cloudspending.FetchError{Status: resp.StatusCode, Message: cloudspending.TrimBody(body)}
	}
	return body, nil
}

// FetchBilling retrieves daily pre-tax cost for the query's subscription.
func (c *Client) FetchBilling(ctx context.Context, q cloudspending.BillingQuery, token auth.AccessToken) (*cloudspending.RawBillingPayload, error) {
	if q.IsEmpty() {
		return &cloudspending.RawBillingPayload{}, nil
	}
	payload, err := c.query(ctx, q.SubscriptionID, dailyCostQuery(q), token)
	if err != nil {
		return nil, err
	}
	if payload.Properties == nil || len(payload.Properties.Rows) == 0 {
		slog.Info("azure.cost.empty", "subscription_id", q.SubscriptionID)
	} else {
		slog.Info("azure.cost.fetched", "subscription_id", q.SubscriptionID, "rows", len(payload.Properties.Rows))
	}
	return payload, nil
}

type subscriptionList struct {
	Value []cloudspending.Subscription `json:"value"`
}

// ListSubscriptions lists every subscription the token can see.
func (c *Client) ListSubscriptions(ctx context.Context, token auth.AccessToken) ([]cloudspending.Subscription, error) {
	url := fmt.Sprintf("%s/subscriptions?api-version=%s", c.managementURL, subscriptionsAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &cloudspending.FetchError{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	req.Header.Set("Authorization", token.AuthorizationHeader())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var list subscriptionList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &cloudspending.FetchError{Status: http.StatusOK, Message: fmt.Sprintf("failed to decode subscriptions: %v", err), Err: err}
	}
	if list.Value == nil {
		list.Value = []cloudspending.Subscription{}
	}
	return list.Value, nil
}

const invoiceMonths = 12

// FetchInvoices sums monthly cost across every visible subscription. A
// subscription whose query fails is skipped with a warning as long as
// another one succeeds. A rejected token, or no subscription succeeding,
// fails the call.
func (c *Client) FetchInvoices(ctx context.Context, token auth.AccessToken) ([]cloudspending.InvoiceRecord, error) {
	subs, err := c.ListSubscriptions(ctx, token)
	if err != nil {
		return nil, err
	}
	totals := map[string]float64{}
	succeeded := 0
	var lastErr error
	for _, s := range subs {
		payload, err := c.query(ctx, s.SubscriptionID, monthlyCostQuery(invoiceMonths), token)
		if err != nil {
			var fe *cloudspending.FetchError
			if errors.As(err, &fe) && fe.Unauthorized() {
				return nil, err
			}
			slog.Warn("azure.invoices.subscription.error", "subscription_id", s.SubscriptionID, "error", err)
			lastErr = err
			continue
		}
		succeeded++
		for month, cost := range monthlyTotals(payload) {
			totals[month] += cost
		}
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}

	months := make([]string, 0, len(totals))
	for m := range totals {
		months = append(months, m)
	}
	sort.Strings(months)
	out := make([]cloudspending.InvoiceRecord, 0, len(months))
	for _, m := range months {
		out = append(out, cloudspending.InvoiceRecord{Month: m, Total: cloudspending.RoundCents(totals[m])})
	}
	return out, nil
}

// monthlyTotals reads BillingMonth/Cost into YYYY-MM keyed totals. The
// month comes back as "2025-09-01T00:00:00" or as 20250901.
func monthlyTotals(payload *cloudspending.RawBillingPayload) map[string]float64 {
	out := map[string]float64{}
	if payload == nil || payload.Properties == nil {
		return out
	}
	monthIdx, costIdx := -1, -1
	for i, col := range payload.Properties.Columns {
		switch col.Name {
		case "BillingMonth", "UsageDate":
			monthIdx = i
		case "Cost", "PreTaxCost":
			costIdx = i
		}
	}
	if monthIdx == -1 || costIdx == -1 {
		return out
	}
	for _, row := range payload.Properties.Rows {
		if len(row) <= monthIdx || len(row) <= costIdx {
			continue
		}
		month := fmt.Sprint(row[monthIdx])
		if len(month) == 8 && !strings.Contains(month, "-") {
			month = month[:4] + "-" + month[4:6]
		} else if len(month) >= 7 {
			month = month[:7]
		}
		out[month] += cloudspending.CoerceAmount(row[costIdx])
	}
	return out
}
