package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/metrics"
)

type recordingBackoff struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingBackoff) factory(maxRetries uint64) func() retry.Backoff {
	return func() retry.Backoff {
		next := retry.WithMaxRetries(maxRetries, retry.NewExponential(time.Millisecond))
		return retry.BackoffFunc(func() (time.Duration, bool) {
			val, stop := next.Next()
			if !stop {
				r.mu.Lock()
				r.delays = append(r.delays, val)
				r.mu.Unlock()
			}
			return val, stop
		})
	}
}

func (r *recordingBackoff) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, baseURL string, opts Options) *Client {
	t.Helper()
	opts.BaseURL = baseURL
	if opts.Logger == nil {
		opts.Logger = logger.New(logger.Options{ServiceName: "provider-test", Output: io.Discard})
	}
	if opts.APIKey == "" {
		opts.APIKey = "sk_test"
	}
	client, err := New(opts)
	require.NoError(t, err)
	return client
}

func validOrder() OrderRequest {
	return OrderRequest{
		CustomerID: "cus_123",
		PlanID:     "premium-monthly",
		Amount:     decimal.RequireFromString("9.99"),
		Currency:   "USD",
	}
}

func TestCreateOrderRetriesTransientFailures(t *testing.T) {
	var calls int32
	var keysMu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keysMu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		keysMu.Unlock()
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"unavailable","message":"try later"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ord_1","status":"pending","amount":"9.99","currency":"USD"}`))
	}))
	defer srv.Close()

	backoff := &recordingBackoff{}
	client := newTestClient(t, srv.URL, Options{Backoff: backoff.factory(3)})

	req := validOrder()
	req.IdempotencyKey = "renewal:abc:1700000000"
	order, err := client.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ord_1", order.ID)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("9.99")))

	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	delays := backoff.recorded()
	require.Len(t, delays, 2)
	assert.Less(t, delays[0], delays[1])
	assert.Equal(t, []string{req.IdempotencyKey, req.IdempotencyKey, req.IdempotencyKey}, keys)
}

func TestCreateOrderStopsAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	backoff := &recordingBackoff{}
	client := newTestClient(t, srv.URL, Options{Backoff: backoff.factory(3)})

	_, err := client.CreateOrder(context.Background(), validOrder())
	require.Error(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable())
}

func TestDefaultRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, Options{BaseBackoff: time.Millisecond})
	_, err := client.CreateOrder(context.Background(), validOrder())
	require.Error(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	none := uint64(0)
	client = newTestClient(t, srv.URL, Options{BaseBackoff: time.Millisecond, MaxRetries: &none})
	_, err = client.CreateOrder(context.Background(), validOrder())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"order_not_found","message":"no such order"}`))
	}))
	defer srv.Close()

	backoff := &recordingBackoff{}
	client := newTestClient(t, srv.URL, Options{Backoff: backoff.factory(3)})

	_, err := client.ChargeSavedProfile(context.Background(), "ord_missing", "pp_1")
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, backoff.recorded())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "order_not_found", apiErr.Code)
	assert.Equal(t, "no such order", apiErr.Message)
	assert.Contains(t, ResponseBody(err), "order_not_found")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(DomainError(err)))
}

func TestTimeoutIsDistinctAndNotRetried(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv.URL, Options{
		Timeout: 50 * time.Millisecond,
		Backoff: (&recordingBackoff{}).factory(3),
	})

	_, err := client.ListOrders(context.Background(), OrderFilter{CustomerID: "cus_123"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, opListOrders, timeoutErr.Operation)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 0, StatusCode(err))
	assert.Equal(t, pkgerrors.CodeTimeout, pkgerrors.CodeOf(DomainError(err)))
}

func TestChargeSendsProfileAndDeterministicKey(t *testing.T) {
	var gotPath, gotKey, gotAuth string
	var gotBody chargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"ch_1","order_id":"ord_9","status":"succeeded","amount":"4.99"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, Options{APIKey: "sk_live_x"})
	charge, err := client.ChargeSavedProfile(context.Background(), "ord_9", "pp_7")
	require.NoError(t, err)
	assert.Equal(t, "ch_1", charge.ID)
	assert.Equal(t, "/v1/orders/ord_9/charge", gotPath)
	assert.Equal(t, "charge-ord_9-pp_7", gotKey)
	assert.Equal(t, "Bearer sk_live_x", gotAuth)
	assert.Equal(t, "pp_7", gotBody.PaymentProfileID)
}

func TestListOrdersEncodesFilter(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"orders":[{"id":"ord_1","status":"paid","metadata":{"renewal_period_end":"1700000000"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, Options{})
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orders, err := client.ListOrders(context.Background(), OrderFilter{
		CustomerID:   "cus_1",
		Statuses:     []OrderStatus{OrderStatusPaid, OrderStatusPending},
		CreatedAfter: after,
		Limit:        20,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1700000000", orders[0].Metadata["renewal_period_end"])
	assert.Equal(t, []string{"cus_1"}, query["customer_id"])
	assert.Equal(t, []string{"paid", "pending"}, query["status"])
	assert.Equal(t, []string{"2026-03-01T00:00:00Z"}, query["created_after"])
	assert.Equal(t, []string{"20"}, query["limit"])
}

func TestCreateOrderValidatesLocally(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL, Options{})

	req := validOrder()
	req.Amount = decimal.Zero
	_, err := client.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	req = validOrder()
	req.Currency = "DOLLARS"
	_, err = client.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestAttemptsAreCounted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"orders":[]}`))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewProviderMetrics(reg)
	client := newTestClient(t, srv.URL, Options{Metrics: m, Backoff: (&recordingBackoff{}).factory(3)})

	_, err := client.ListOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "provider_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestJitteredExponentialBounds(t *testing.T) {
	b := jitteredExponential(time.Second, time.Second, 3)
	lower := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, lo := range lower {
		val, stop := b.Next()
		require.False(t, stop, "retry %d", i+1)
		assert.GreaterOrEqual(t, val, lo)
		assert.Less(t, val, lo+time.Second)
	}
	_, stop := b.Next()
	assert.True(t, stop)
}

func TestNewRequiresBaseURLAndLogger(t *testing.T) {
	_, err := New(Options{BaseURL: "http://localhost"})
	require.Error(t, err)

	_, err = New(Options{Logger: logger.New(logger.Options{Output: io.Discard})})
	require.Error(t, err)
}

func TestDomainErrorMapping(t *testing.T) {
	cases := map[int]pkgerrors.Code{
		http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
		http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
		http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
		http.StatusTeapot:              pkgerrors.CodeValidation,
		http.StatusBadGateway:          pkgerrors.CodeDependency,
	}
	for status, want := range cases {
		err := DomainError(&APIError{Operation: "x", StatusCode: status})
		assert.Equal(t, want, pkgerrors.CodeOf(err), "status %d", status)
	}
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(DomainError(errors.New("connection refused"))))
	assert.Nil(t, DomainError(nil))
}
