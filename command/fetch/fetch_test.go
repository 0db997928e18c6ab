package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
	"cost-dashboard/domain/pipeline"
)

type fakeTokens struct{ err error }

func (f fakeTokens) Acquire(ctx context.Context, session *auth.Session, scope string) (auth.AccessToken, error) {
	if f.err != nil {
		return auth.AccessToken{}, f.err
	}
	return auth.AccessToken{Value: "tok", Scope: scope}, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls   []string
	fail    map[string]bool
	refused map[string]bool
}

func (f *fakeFetcher) FetchBilling(ctx context.Context, q cloudspending.BillingQuery, tok auth.AccessToken) (*cloudspending.RawBillingPayload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q.SubscriptionID)
	f.mu.Unlock()
	if f.refused[q.SubscriptionID] {
		return nil, &cloudspending.FetchError{Status: 403, Message: "AuthorizationFailed"}
	}
	if f.fail[q.SubscriptionID] {
		return nil, &cloudspending.FetchError{Status: 500, Message: "boom"}
	}
	return &cloudspending.RawBillingPayload{Properties: &cloudspending.Properties{
		Columns: []cloudspending.Column{{Name: "UsageDate"}, {Name: "PreTaxCost"}},
		Rows:    [][]any{{float64(20250101), 1.5}},
	}}, nil
}

func (f *fakeFetcher) ListSubscriptions(ctx context.Context, tok auth.AccessToken) ([]cloudspending.Subscription, error) {
	return nil, nil
}

func (f *fakeFetcher) FetchInvoices(ctx context.Context, tok auth.AccessToken) ([]cloudspending.InvoiceRecord, error) {
	return nil, nil
}

var session = &auth.Session{AccountHandle: "oid-1"}

func TestFetchAll_SkipsFailingSubscriptionsKeepingOrder(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"sub-2": true}}
	p := pipeline.New(fakeTokens{}, f, "")

	sets, err := fetchAll(context.Background(), p, session, []string{"sub-1", "sub-2", "sub-3"}, nil, nil, 2)

	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "sub-1", sets[0].SubscriptionID)
	assert.Equal(t, "sub-3", sets[1].SubscriptionID)
	assert.Equal(t, []cloudspending.CostRecord{{Date: "2025-01-01", Cost: 1.5}}, sets[1].Records)
	assert.Equal(t, "sub-1", f.calls[0], "first subscription runs before the others")
	assert.Len(t, f.calls, 3)
}

func TestFetchAll_AuthFailureAborts(t *testing.T) {
	f := &fakeFetcher{}
	authErr := &auth.AuthError{Reason: auth.ReasonSilentAndInteractiveFailed, Err: errors.New("declined")}
	p := pipeline.New(fakeTokens{err: authErr}, f, "")

	_, err := fetchAll(context.Background(), p, session, []string{"sub-1", "sub-2"}, nil, nil, 2)

	var got *auth.AuthError
	assert.ErrorAs(t, err, &got)
	assert.Empty(t, f.calls)
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = parseDay("2025-02-03")
	require.NoError(t, err)
	assert.Equal(t, "2025-02-03", d.Format(dateLayout))

	_, err = parseDay("02/03/2025")
	assert.Error(t, err)
}

func TestFetchAll_RefusedSubscriptionIsSkipped(t *testing.T) {
	f := &fakeFetcher{refused: map[string]bool{"sub-1": true}}
	p := pipeline.New(fakeTokens{}, f, "")

	sets, err := fetchAll(context.Background(), p, session, []string{"sub-1", "sub-2"}, nil, nil, 2)

	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "sub-2", sets[0].SubscriptionID)
}
