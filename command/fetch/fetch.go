package fetch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"cost-dashboard/command/app"
	ccsv "cost-dashboard/connectors/csv"
	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
	"cost-dashboard/domain/pipeline"
)

const dateLayout = "2006-01-02"

// Run fetches the cost records of one or more subscriptions and writes them
// to a CSV file.
//
// Usage:
//
//	cost-dashboard fetch -subscription id1,id2 [-from 2025-01-01] [-to 2025-01-31] [-out data/cost_records.csv]
//
// AZURE_SUBSCRIPTION_ID is used when -subscription is empty.
func Run(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	subs := fs.String("subscription", os.Getenv("AZURE_SUBSCRIPTION_ID"), "comma-separated subscription ids")
	from := fs.String("from", "", "first day, YYYY-MM-DD (optional)")
	to := fs.String("to", "", "last day, YYYY-MM-DD (optional)")
	out := fs.String("out", filepath.Join("data", "cost_records.csv"), "output CSV path")
	parallel := fs.Int("parallel", 4, "subscriptions fetched at once")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids := app.SplitList(*subs)
	if len(ids) == 0 {
		slog.Error("fetch.validation.error", "reason", "missing subscription")
		return fmt.Errorf("missing -subscription or AZURE_SUBSCRIPTION_ID")
	}
	fromT, err := parseDay(*from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	toT, err := parseDay(*to)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	a, err := app.Load()
	if err != nil {
		return err
	}
	session, err := a.RequireSession()
	if err != nil {
		return err
	}

	slog.Info("fetch.start", "subscriptions", len(ids), "from", *from, "to", *to)
	sets, err := fetchAll(context.Background(), a.Pipeline, session, ids, fromT, toT, *parallel)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		slog.Warn("fetch.no_data")
		return fmt.Errorf("no subscription could be fetched")
	}

	if err := ccsv.WriteCostRecords(*out, sets); err != nil {
		slog.Error("fetch.csv.write.error", "error", err)
		return fmt.Errorf("failed to write cost records CSV: %w", err)
	}
	for _, s := range sets {
		fmt.Printf("%s\t%d records\t%.2f\n", s.SubscriptionID, len(s.Records), cloudspending.Total(s.Records))
	}
	slog.Info("fetch.done", "subscriptions", len(sets), "output", *out)
	return nil
}

// fetchAll queries every subscription. The first one runs alone so a
// sign-in prompt, if any, is shown once. Auth failures abort the run;
// fetch failures skip the subscription.
func fetchAll(ctx context.Context, p *pipeline.Pipeline, session *auth.Session, ids []string, from, to *time.Time, parallel int) ([]ccsv.SubscriptionRecords, error) {
	results := make([]*ccsv.SubscriptionRecords, len(ids))
	one := func(ctx context.Context, i int) error {
		q := cloudspending.BillingQuery{SubscriptionID: ids[i], From: from, To: to}
		res, err := p.GetCostRecords(ctx, session, q)
		if err != nil {
			var authErr *auth.AuthError
			if errors.As(err, &authErr) {
				return err
			}
			var fetchErr *cloudspending.FetchError
			if errors.As(err, &fetchErr) && fetchErr.Unauthorized() {
				slog.Warn("fetch.subscription.unauthorized", "subscription_id", ids[i], "status", fetchErr.Status)
				fmt.Fprintf(os.Stderr, "Warning: access to subscription %s was refused (%d); sign in again or check your role assignment\n", ids[i], fetchErr.Status)
				return nil
			}
			slog.Warn("fetch.subscription.error", "subscription_id", ids[i], "error", err)
			fmt.Fprintf(os.Stderr, "Warning: failed to fetch costs for subscription %s: %v\n", ids[i], err)
			return nil
		}
		results[i] = &ccsv.SubscriptionRecords{SubscriptionID: ids[i], Records: res.Records}
		return nil
	}

	if err := one(ctx, 0); err != nil {
		return nil, err
	}
	if parallel < 1 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 1; i < len(ids); i++ {
		g.Go(func() error { return one(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sets []ccsv.SubscriptionRecords
	for _, r := range results {
		if r != nil {
			sets = append(sets, *r)
		}
	}
	return sets, nil
}

// RunSubscriptions prints the subscriptions the signed-in identity can read.
func RunSubscriptions(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("subscriptions: no arguments expected")
	}
	a, err := app.Load()
	if err != nil {
		return err
	}
	session, err := a.RequireSession()
	if err != nil {
		return err
	}
	subs, err := a.Pipeline.ListSubscriptions(context.Background(), session)
	if err != nil {
		return err
	}
	for _, s := range subs {
		fmt.Printf("%s\t%s\n", s.SubscriptionID, s.DisplayName)
	}
	return nil
}

// RunInvoices writes the monthly invoice totals.
//
// Usage:
//
//	cost-dashboard invoices [-out data/invoices.csv]
func RunInvoices(args []string) error {
	fs := flag.NewFlagSet("invoices", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	out := fs.String("out", filepath.Join("data", "invoices.csv"), "output CSV path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := app.Load()
	if err != nil {
		return err
	}
	session, err := a.RequireSession()
	if err != nil {
		return err
	}
	invoices, err := a.Pipeline.GetInvoices(context.Background(), session)
	if err != nil {
		return err
	}
	if err := ccsv.WriteInvoices(*out, invoices); err != nil {
		return fmt.Errorf("failed to write invoices CSV: %w", err)
	}
	slog.Info("invoices.done", "months", len(invoices), "output", *out)
	return nil
}

func parseDay(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
