package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	"github.com/angelmondragon/puttlab-backend/pkg/provider"
)

// providerServer is an in-memory payment provider speaking the REST API the
// client expects.
type providerServer struct {
	mu        sync.Mutex
	orders    []*provider.Order
	keys      []string
	charges   []string
	failFor   map[string]int
	chargeErr int
	errBody   string
}

func newProviderServer(t *testing.T) (*providerServer, *provider.Client) {
	t.Helper()
	p := &providerServer{failFor: map[string]int{}}
	r := chi.NewRouter()
	r.Get("/v1/orders", p.list)
	r.Post("/v1/orders", p.create)
	r.Post("/v1/orders/{orderID}/charge", p.charge)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	noRetries := uint64(0)
	client, err := provider.New(provider.Options{
		BaseURL:     srv.URL,
		APIKey:      "sk_test",
		Timeout:     2 * time.Second,
		MaxRetries:  &noRetries,
		BaseBackoff: time.Millisecond,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	return p, client
}

func (p *providerServer) list(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	customer := r.URL.Query().Get("customer_id")
	statuses := r.URL.Query()["status"]
	out := []provider.Order{}
	for _, order := range p.orders {
		if customer != "" && order.CustomerID != customer {
			continue
		}
		if len(statuses) > 0 && !contains(statuses, string(order.Status)) {
			continue
		}
		out = append(out, *order)
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (p *providerServer) create(w http.ResponseWriter, r *http.Request) {
	var req provider.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "bad_json"}})
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if status := p.failFor[req.CustomerID]; status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(p.errBody))
		return
	}
	key := r.Header.Get("Idempotency-Key")
	for i, existing := range p.keys {
		if existing == key {
			writeJSON(w, http.StatusOK, p.orders[i])
			return
		}
	}
	order := &provider.Order{
		ID:         fmt.Sprintf("ord_%d", len(p.orders)+1),
		Status:     provider.OrderStatusPending,
		CustomerID: req.CustomerID,
		PlanID:     req.PlanID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Metadata:   req.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	p.orders = append(p.orders, order)
	p.keys = append(p.keys, key)
	writeJSON(w, http.StatusCreated, order)
}

func (p *providerServer) charge(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var body struct {
		PaymentProfileID string `json:"payment_profile_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges = append(p.charges, orderID+"/"+body.PaymentProfileID)
	if p.chargeErr != 0 {
		w.WriteHeader(p.chargeErr)
		_, _ = w.Write([]byte(p.errBody))
		return
	}
	for _, order := range p.orders {
		if order.ID == orderID {
			order.Status = provider.OrderStatusPaid
			writeJSON(w, http.StatusOK, provider.Charge{
				ID:        "ch_" + orderID,
				OrderID:   orderID,
				ProfileID: body.PaymentProfileID,
				Status:    string(provider.OrderStatusPaid),
				Amount:    order.Amount,
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "order_not_found"}})
}

func (p *providerServer) snapshot() (keys, charges []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...), append([]string(nil), p.charges...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func renewable(end time.Time, customer string) func(p *models.Player) {
	return func(p *models.Player) {
		activeUntil(end, false)(p)
		p.ProviderCustomerID = ptr(customer)
		p.ProviderPaymentProfileID = ptr("pp_" + customer)
	}
}

func newRenewalJob(t *testing.T, s *store, client *provider.Client, now time.Time) *RenewalSweepJob {
	t.Helper()
	job, err := NewRenewalSweepJob(RenewalSweepParams{
		Logger:   quietLogger(),
		DB:       s.client,
		Players:  s.players,
		Billing:  s.billing,
		Provider: client,
		Sink:     s.sink,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return job
}

func TestRenewalSweepChargesDueSubscriptionsOnce(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newStore(t)
	server, client := newProviderServer(t)
	periodEnd := now.Add(24 * time.Hour)
	due := s.seed(t, renewable(periodEnd, "cus_due"))
	s.seed(t, renewable(now.Add(10*24*time.Hour), "cus_later"))
	s.seed(t, func(p *models.Player) {
		renewable(periodEnd, "cus_cancel")(p)
		p.CancelAtPeriodEnd = true
	})
	s.seed(t, func(p *models.Player) {
		renewable(periodEnd, "cus_annual")(p)
		p.BillingCycle = enums.BillingCycleAnnual
		p.PlanID = ptr("premium-annual")
	})
	s.seed(t, func(p *models.Player) {
		activeUntil(periodEnd, false)(p)
		p.ProviderCustomerID = ptr("cus_noprofile")
	})

	job := newRenewalJob(t, s, client, now)
	tally, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{Candidates: 1, Succeeded: 1}, tally)

	keys, charges := server.snapshot()
	assert.Equal(t, []string{RenewalKey(due.ID, periodEnd)}, keys)
	assert.Equal(t, []string{"ord_1/pp_cus_due"}, charges)
	assert.Equal(t, "9.99", server.orders[0].Amount.StringFixed(2))
	assert.Equal(t, "USD", server.orders[0].Currency)
	assert.Equal(t, due.ID.String(), server.orders[0].Metadata["player_id"])

	got := s.reload(t, due.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.True(t, got.PeriodEnd.Equal(periodEnd), "sweep must leave period extension to the webhook")
	require.Len(t, s.sink.named(events.NameRenewalCharged), 1)

	again, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{Candidates: 1, Skipped: 1}, again)
	keys, charges = server.snapshot()
	assert.Len(t, keys, 1)
	assert.Len(t, charges, 1)
}

func TestRenewalSweepChargesExistingPendingOrder(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newStore(t)
	server, client := newProviderServer(t)
	periodEnd := now.Add(48 * time.Hour)
	player := s.seed(t, renewable(periodEnd, "cus_pending"))
	server.orders = append(server.orders, &provider.Order{
		ID:         "ord_prev",
		Status:     provider.OrderStatusPending,
		CustomerID: "cus_pending",
		Metadata: map[string]string{
			"player_id":          player.ID.String(),
			"renewal_period_end": fmt.Sprint(periodEnd.Unix()),
		},
	})
	server.keys = append(server.keys, RenewalKey(player.ID, periodEnd))

	tally, err := newRenewalJob(t, s, client, now).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Succeeded)
	keys, charges := server.snapshot()
	assert.Len(t, keys, 1, "no second order for the same period")
	assert.Equal(t, []string{"ord_prev/pp_cus_pending"}, charges)
}

func TestRenewalSweepDeclineMarksPastDue(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newStore(t)
	server, client := newProviderServer(t)
	server.chargeErr = http.StatusPaymentRequired
	server.errBody = `{"error":{"code":"card_declined","message":"Card declined"}}`
	periodEnd := now.Add(24 * time.Hour)
	player := s.seed(t, renewable(periodEnd, "cus_declined"))

	tally, err := newRenewalJob(t, s, client, now).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, Tally{Candidates: 1, Failed: 1}, tally)

	got := s.reload(t, player.ID)
	assert.Equal(t, enums.SubscriptionStatusPastDue, got.SubscriptionStatus)
	assert.True(t, got.IsSubscribed)
	require.NotNil(t, got.ProviderPaymentProfileID)
	assert.Equal(t, "pp_cus_declined", *got.ProviderPaymentProfileID)
	assert.True(t, got.PeriodEnd.Equal(periodEnd))

	failures, err := s.billing.ListRenewalFailuresByPlayer(context.Background(), player.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "charge_saved_profile", failures[0].Operation)
	assert.Equal(t, http.StatusPaymentRequired, failures[0].StatusCode)
	require.NotNil(t, failures[0].OrderID)
	assert.Equal(t, "ord_1", *failures[0].OrderID)
	require.NotNil(t, failures[0].ProviderBody)
	assert.Contains(t, *failures[0].ProviderBody, "card_declined")

	transitions := s.sink.named(events.NameTransition)
	require.Len(t, transitions, 1)
	assert.Equal(t, enums.TransitionReasonRenewalFailed.String(), transitions[0].Reason)
	assert.Len(t, s.sink.named(events.NameRenewalFailed), 1)
}

func TestRenewalSweepContinuesPastFailedItem(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newStore(t)
	server, client := newProviderServer(t)
	server.failFor["cus_broken"] = http.StatusInternalServerError
	server.errBody = `upstream exploded`
	broken := s.seed(t, renewable(now.Add(12*time.Hour), "cus_broken"))
	healthy := s.seed(t, renewable(now.Add(36*time.Hour), "cus_ok"))

	tally, err := newRenewalJob(t, s, client, now).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, Tally{Candidates: 2, Succeeded: 1, Failed: 1}, tally)

	assert.Equal(t, enums.SubscriptionStatusPastDue, s.reload(t, broken.ID).SubscriptionStatus)
	assert.Equal(t, enums.SubscriptionStatusActive, s.reload(t, healthy.ID).SubscriptionStatus)

	failures, err := s.billing.ListRenewalFailuresByPlayer(context.Background(), broken.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "create_order", failures[0].Operation)
	assert.Equal(t, http.StatusInternalServerError, failures[0].StatusCode)
	assert.Nil(t, failures[0].OrderID)
}

func TestRenewalKeyIsDeterministic(t *testing.T) {
	id := uuid.MustParse("7b0c1c56-1b1e-4a43-9d57-3f0b8f4a2a11")
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "renewal:7b0c1c56-1b1e-4a43-9d57-3f0b8f4a2a11:1785542400", RenewalKey(id, end))
	assert.Equal(t, RenewalKey(id, end), RenewalKey(id, end.In(time.FixedZone("x", 3600))))
}
