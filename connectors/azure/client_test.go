package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
)

var token = auth.AccessToken{Value: "arm-token", Scope: auth.DefaultScope}

func TestFetchBilling_PostsDailyQuery(t *testing.T) {
	var got costQueryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions/sub-1/providers/Microsoft.CostManagement/query", r.URL.Path)
		assert.Equal(t, "2023-03-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer arm-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"properties":{"columns":[{"name":"PreTaxCost","type":"Number"},{"name":"UsageDate","type":"Number"},{"name":"Currency","type":"String"}],"rows":[[1.25,20250901,"EUR"]]}}`))
	}))
	defer srv.Close()

	payload, err := NewClient(srv.Client(), srv.URL).FetchBilling(context.Background(), cloudspending.BillingQuery{SubscriptionID: "sub-1"}, token)

	require.NoError(t, err)
	assert.Equal(t, "ActualCost", got.Type)
	assert.Equal(t, "MonthToDate", got.Timeframe)
	assert.Equal(t, "Daily", got.Dataset.Granularity)
	assert.Equal(t, "PreTaxCost", got.Dataset.Aggregation["totalCost"].Name)
	assert.Equal(t, []cloudspending.CostRecord{{Date: "2025-09-01", Cost: 1.25}}, cloudspending.Normalize(payload))
}

func TestDailyCostQuery_CustomRange(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	q := dailyCostQuery(cloudspending.BillingQuery{SubscriptionID: "sub-1", From: &from, To: &to})

	assert.Equal(t, "Custom", q.Timeframe)
	require.NotNil(t, q.TimePeriod)
	assert.Equal(t, "2025-03-01", q.TimePeriod.From)
	assert.Equal(t, "2025-03-15", q.TimePeriod.To)

	onlyTo := dailyCostQuery(cloudspending.BillingQuery{SubscriptionID: "sub-1", To: &to})
	assert.Equal(t, "2025-03-01", onlyTo.TimePeriod.From)
}

func TestFetchBilling_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"RBACAccessDenied"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL).FetchBilling(context.Background(), cloudspending.BillingQuery{SubscriptionID: "sub-1"}, token)

	var fetchErr *cloudspending.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusForbidden, fetchErr.Status)
	assert.Contains(t, fetchErr.Message, "RBACAccessDenied")
}

func TestFetchBilling_EmptyQuery(t *testing.T) {
	c := NewClient(nil, "http://127.0.0.1:0")
	payload, err := c.FetchBilling(context.Background(), cloudspending.BillingQuery{}, token)
	require.NoError(t, err)
	assert.Nil(t, payload.Properties)
}

func TestListSubscriptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions", r.URL.Path)
		assert.Equal(t, "2020-01-01", r.URL.Query().Get("api-version"))
		_, _ = w.Write([]byte(`{"value":[{"id":"/subscriptions/sub-1","subscriptionId":"sub-1","displayName":"Prod","state":"Enabled"}]}`))
	}))
	defer srv.Close()

	subs, err := NewClient(srv.Client(), srv.URL).ListSubscriptions(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, []cloudspending.Subscription{{SubscriptionID: "sub-1", DisplayName: "Prod"}}, subs)
}

func TestFetchInvoices_SumsAcrossSubscriptions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"subscriptionId":"a","displayName":"A"},{"subscriptionId":"b","displayName":"B"},{"subscriptionId":"broken","displayName":"X"}]}`))
	})
	mux.HandleFunc("/subscriptions/a/providers/Microsoft.CostManagement/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"properties":{"columns":[{"name":"Cost"},{"name":"BillingMonth"},{"name":"Currency"}],"rows":[[10.5,"2025-08-01T00:00:00","USD"],[20,"2025-09-01T00:00:00","USD"]]}}`))
	})
	mux.HandleFunc("/subscriptions/b/providers/Microsoft.CostManagement/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"properties":{"columns":[{"name":"Cost"},{"name":"BillingMonth"}],"rows":[[1.006,20250901]]}}`))
	})
	mux.HandleFunc("/subscriptions/broken/providers/Microsoft.CostManagement/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	invoices, err := NewClient(srv.Client(), srv.URL).FetchInvoices(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, []cloudspending.InvoiceRecord{
		{Month: "2025-08", Total: 10.5},
		{Month: "2025-09", Total: 21.01},
	}, invoices)
}

func TestFetchInvoices_FailsWhenNoSubscriptionSucceeds(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
	}{
		{"forbidden", http.StatusForbidden},
		{"server error", http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"value":[{"subscriptionId":"a"},{"subscriptionId":"b"}]}`))
			})
			mux.HandleFunc("/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			invoices, err := NewClient(srv.Client(), srv.URL).FetchInvoices(context.Background(), token)

			assert.Nil(t, invoices)
			var fe *cloudspending.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.status, fe.Status)
		})
	}
}

func TestFetchInvoices_RejectedTokenFailsEvenWithPartialSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"subscriptionId":"a"},{"subscriptionId":"b"}]}`))
	})
	mux.HandleFunc("/subscriptions/a/providers/Microsoft.CostManagement/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"properties":{"columns":[{"name":"Cost"},{"name":"BillingMonth"}],"rows":[[5,20250901]]}}`))
	})
	mux.HandleFunc("/subscriptions/b/providers/Microsoft.CostManagement/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL).FetchInvoices(context.Background(), token)

	var fe *cloudspending.FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Unauthorized())
}
