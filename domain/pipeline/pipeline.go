package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
)

// TokenSource is the Token Acquirer as seen by the pipeline.
type TokenSource interface {
	Acquire(ctx context.Context, session *auth.Session, scope string) (auth.AccessToken, error)
}

// Fetcher issues authorized requests against the billing endpoints.
type Fetcher interface {
	FetchBilling(ctx context.Context, query cloudspending.BillingQuery, token auth.AccessToken) (*cloudspending.RawBillingPayload, error)
	ListSubscriptions(ctx context.Context, token auth.AccessToken) ([]cloudspending.Subscription, error)
	FetchInvoices(ctx context.Context, token auth.AccessToken) ([]cloudspending.InvoiceRecord, error)
}

// Pipeline turns a session and a query into normalized cost records.
// It holds no per-call state; concurrent calls are independent.
type Pipeline struct {
	tokens  TokenSource
	fetcher Fetcher
	scope   string
}

// New builds a Pipeline. An empty scope falls back to auth.DefaultScope.
func New(tokens TokenSource, fetcher Fetcher, scope string) *Pipeline {
	if scope == "" {
		scope = auth.DefaultScope
	}
	return &Pipeline{tokens: tokens, fetcher: fetcher, scope: scope}
}

// GetCostRecords runs token -> fetch -> normalize once. A query with no
// subscription id returns an empty result without touching the token
// source or the network. Auth and fetch failures abort the run.
func (p *Pipeline) GetCostRecords(ctx context.Context, session *auth.Session, query cloudspending.BillingQuery) (FetchResult, error) {
	if query.IsEmpty() {
		return FetchResult{Records: []cloudspending.CostRecord{}}, nil
	}
	log := slog.With("run_id", uuid.NewString(), "subscription_id", query.SubscriptionID)
	start := time.Now()
	log.Info("pipeline.cost_records.start")

	tok, err := p.tokens.Acquire(ctx, session, p.scope)
	if err != nil {
		log.Warn("pipeline.token.error", "error", err)
		return ErrorResult(err), err
	}

	raw, err := p.fetcher.FetchBilling(ctx, query, tok)
	if err != nil {
		log.Warn("pipeline.fetch.error", "error", err)
		return ErrorResult(err), err
	}

	records, report := cloudspending.NormalizeWithReport(raw)
	if report.Degraded() {
		log.Warn("pipeline.normalize.degraded", "rows", report.Rows, "unknown_dates", report.UnknownDates, "zeroed_costs", report.ZeroedCosts)
	}
	log.Info("pipeline.cost_records.done", "records", len(records), "elapsed", time.Since(start))
	return FetchResult{Records: records, Report: &report}, nil
}

// ListSubscriptions returns the subscriptions visible to session.
func (p *Pipeline) ListSubscriptions(ctx context.Context, session *auth.Session) ([]cloudspending.Subscription, error) {
	tok, err := p.tokens.Acquire(ctx, session, p.scope)
	if err != nil {
		slog.Warn("pipeline.subscriptions.token.error", "error", err)
		return nil, err
	}
	subs, err := p.fetcher.ListSubscriptions(ctx, tok)
	if err != nil {
		slog.Warn("pipeline.subscriptions.fetch.error", "error", err)
		return nil, err
	}
	slog.Info("pipeline.subscriptions.done", "count", len(subs))
	return subs, nil
}

// GetInvoices returns the monthly invoice totals visible to session.
func (p *Pipeline) GetInvoices(ctx context.Context, session *auth.Session) ([]cloudspending.InvoiceRecord, error) {
	tok, err := p.tokens.Acquire(ctx, session, p.scope)
	if err != nil {
		slog.Warn("pipeline.invoices.token.error", "error", err)
		return nil, err
	}
	invoices, err := p.fetcher.FetchInvoices(ctx, tok)
	if err != nil {
		slog.Warn("pipeline.invoices.fetch.error", "error", err)
		return nil, err
	}
	return invoices, nil
}

// ErrorKind classifies the failure carried by a FetchResult.
type ErrorKind string

const (
	KindAuth  ErrorKind = "auth"
	KindFetch ErrorKind = "fetch"
)

// ErrorDescriptor is the presentation-facing view of a pipeline failure.
type ErrorDescriptor struct {
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message"`
}

// FetchResult holds either records or an error, never both.
type FetchResult struct {
	Records []cloudspending.CostRecord     `json:"records"`
	Report  *cloudspending.NormalizeReport `json:"report,omitempty"`
	Error   *ErrorDescriptor               `json:"error,omitempty"`
}

// OK reports whether the result carries records rather than an error.
func (r FetchResult) OK() bool { return r.Error == nil }

// ErrorResult converts a pipeline error into a FetchResult.
func ErrorResult(err error) FetchResult {
	var authErr *auth.AuthError
	var fetchErr *cloudspending.FetchError
	switch {
	case errors.As(err, &authErr):
		return FetchResult{Error: &ErrorDescriptor{Kind: KindAuth, Message: authErr.Error()}}
	case errors.As(err, &fetchErr):
		return FetchResult{Error: &ErrorDescriptor{Kind: KindFetch, Status: fetchErr.Status, Message: fetchErr.Error()}}
	default:
		return FetchResult{Error: &ErrorDescriptor{Kind: KindFetch, Message: err.Error()}}
	}
}
