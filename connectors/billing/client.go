package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
)

// Package billing talks to the dashboard API that fronts Azure Cost
// Management: GetBillingData, GetSubscriptions and GetInvoiceData.

const (
	billingPath       = "GetBillingData"
	subscriptionsPath = "GetSubscriptions"
	invoicesPath      = "GetInvoiceData"
	dateLayout        = "2006-01-02"
)

// Client issues one authorized request per call and never retries.
// Use New to construct it.
type Client struct {
	c             *http.Client
	baseURL       string
	singleAccount bool
}

// Option configures a Client.
type Option func(*Client)

// WithSingleAccount omits the subscriptionId parameter for deployments that
// only serve one account.
func WithSingleAccount() Option {
	return func(c *Client) { c.singleAccount = true }
}

// New creates a Client for baseURL, e.g. http://localhost:7071/api.
func New(c *http.Client, baseURL string, opts ...Option) *Client {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	cl := &Client{c: c, baseURL: strings.TrimRight(baseURL, "/")}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

func (bc *Client) newRequest(ctx context.Context, path string, params url.Values, token auth.AccessToken) (*http.Request, error) {
	u := bc.baseURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", token.AuthorizationHeader())
	return req, nil
}

// do sends req and returns the body of a 2xx response. Anything else is a
// *cloudspending.FetchError.
func (bc *Client) do(req *http.Request) ([]byte, error) {
	slog.Debug("billing.request", "method", req.Method, "path", req.URL.Path, "authorization", auth.MaskAuthorization(req.Header.Get("Authorization")))
	resp, err := bc.c.Do(req)
	if err != nil {
		return nil, &cloudspending.FetchError{Status: cloudspending.StatusNone, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &cloudspending.FetchError{Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("billing.response.error", "path", req.URL.Path, "status", resp.StatusCode)
		return nil, &cloudspending.FetchError{Status: resp.StatusCode, Message: cloudspending.TrimBody(body)}
	}
	return body, nil
}

// FetchBilling returns the raw usage table for query. A query without a
// subscription id yields an empty payload and sends nothing.
func (bc *Client) FetchBilling(ctx context.Context, query cloudspending.BillingQuery, token auth.AccessToken) (*cloudspending.RawBillingPayload, error) {
	if query.IsEmpty() {
		return &cloudspending.RawBillingPayload{}, nil
	}
	params := url.Values{}
	if !bc.singleAccount {
		params.Set("subscriptionId", query.SubscriptionID)
	}
	if query.From != nil {
		params.Set("from", query.From.Format(dateLayout))
	}
	if query.To != nil {
		params.Set("to", query.To.Format(dateLayout))
	}

	req, err := bc.newRequest(ctx, billingPath, params, token)
	if err != nil {
		return nil, &cloudspending.FetchError{Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	body, err := bc.do(req)
	if err != nil {
		return nil, err
	}
	payload, err := cloudspending.DecodePayload(body)
	if err != nil {
		return nil, &cloudspending.FetchError{Status: http.StatusOK, Message: err.Error(), Err: err}
	}
	rows := 0
	if payload.Properties != nil {
		rows = len(payload.Properties.Rows)
	}
	slog.Info("billing.fetch.done", "subscription_id", query.SubscriptionID, "rows", rows)
	return payload, nil
}

type subscriptionsResponse struct {
	Subscriptions []cloudspending.Subscription `json:"subscriptions"`
}

// ListSubscriptions returns the subscriptions the token can read.
func (bc *Client) ListSubscriptions(ctx context.Context, token auth.AccessToken) ([]cloudspending.Subscription, error) {
	req, err := bc.newRequest(ctx, subscriptionsPath, nil, token)
	if err != nil {
		return nil, &cloudspending.FetchError{Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	body, err := bc.do(req)
	if err != nil {
		return nil, err
	}
	var out subscriptionsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &cloudspending.FetchError{Status: http.StatusOK, Message: fmt.Sprintf("decode subscriptions: %v", err), Err: err}
	}
	if out.Subscriptions == nil {
		out.Subscriptions = []cloudspending.Subscription{}
	}
	return out.Subscriptions, nil
}

type invoiceItem struct {
	Month string `json:"month"`
	Total any    `json:"total"`
}

// FetchInvoices returns monthly totals. Totals arrive as numbers or numeric
// strings and are rounded to cents.
func (bc *Client) FetchInvoices(ctx context.Context, token auth.AccessToken) ([]cloudspending.InvoiceRecord, error) {
	req, err := bc.newRequest(ctx, invoicesPath, nil, token)
	if err != nil {
		return nil, &cloudspending.FetchError{Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	body, err := bc.do(req)
	if err != nil {
		return nil, err
	}
	var items []invoiceItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &cloudspending.FetchError{Status: http.StatusOK, Message: fmt.Sprintf("decode invoices: %v", err), Err: err}
	}
	out := make([]cloudspending.InvoiceRecord, 0, len(items))
	for _, it := range items {
		out = append(out, cloudspending.InvoiceRecord{
			Month: it.Month,
			Total: cloudspending.RoundCents(cloudspending.CoerceAmount(it.Total)),
		})
	}
	return out, nil
}
