package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/internal/webhookevents"
	"github.com/angelmondragon/puttlab-backend/internal/webhooks"
	"github.com/angelmondragon/puttlab-backend/pkg/config"
	"github.com/angelmondragon/puttlab-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/types"
)

const (
	secret    = "whsec_test"
	sigHeader = "X-Provider-Signature"
	eventBody = `{"id":"evt_200","type":"order.paid","created_at":"2026-03-01T10:00:00Z","data":{"plan_id":"basic-monthly","metadata":{"player_id":"p"}}}`
)

type countingProcessor struct {
	calls atomic.Int32
}

func (c *countingProcessor) ProcessEvent(context.Context, uuid.UUID) error {
	c.calls.Add(1)
	return pkgerrors.New(pkgerrors.CodeNotFound, "no player matched")
}

type stubIngestor struct {
	err error
}

func (s stubIngestor) Ingest(context.Context, []byte, string) (*webhooks.IngestResult, error) {
	return nil, s.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "webhook-controller-test", Output: io.Discard})
}

func webhookConfig() config.WebhookConfig {
	return config.WebhookConfig{Secret: secret, SignatureHeader: sigHeader, MaxBodyBytes: 4096}
}

func newRealIngestor(t *testing.T, proc *countingProcessor) *webhooks.Ingestor {
	t.Helper()
	ing, err := webhooks.NewIngestor(webhooks.IngestorParams{
		Verifier:   webhooks.NewVerifier(secret, true, quietLogger()),
		Events:     webhookevents.NewRepository(dbtest.Open(t).DB()),
		Processor:  proc,
		Dispatcher: webhooks.NewDispatcher(2, time.Second, quietLogger()),
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("ingestor setup: %v", err)
	}
	return ing
}

func deliver(handler http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(sigHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) ackResponse {
	t.Helper()
	var env struct {
		Data ackResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return env.Data
}

func TestProviderWebhook_AcknowledgesOnceRecorded(t *testing.T) {
	proc := &countingProcessor{}
	handler := ProviderWebhook(newRealIngestor(t, proc), webhookConfig(), quietLogger())
	sig := webhooks.Sign([]byte(eventBody), secret)

	rec := deliver(handler, eventBody, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	ack := decodeAck(t, rec)
	if ack.EventID != "evt_200" || ack.Duplicate {
		t.Fatalf("unexpected ack %+v", ack)
	}

	dup := deliver(handler, eventBody, sig)
	if dup.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", dup.Code)
	}
	if !decodeAck(t, dup).Duplicate {
		t.Fatalf("expected duplicate flag on redelivery")
	}

	deadline := time.Now().Add(2 * time.Second)
	for proc.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := proc.calls.Load(); got != 1 {
		t.Fatalf("expected one processing attempt, got %d", got)
	}
}

func TestProviderWebhook_RejectsBadSignature(t *testing.T) {
	proc := &countingProcessor{}
	handler := ProviderWebhook(newRealIngestor(t, proc), webhookConfig(), quietLogger())

	for _, sig := range []string{"", "deadbeef"} {
		rec := deliver(handler, eventBody, sig)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("signature %q: expected 401, got %d", sig, rec.Code)
		}
	}
	if proc.calls.Load() != 0 {
		t.Fatalf("processor must not run for rejected deliveries")
	}
}

func TestProviderWebhook_RejectsUndecodableBody(t *testing.T) {
	body := `{"type":`
	handler := ProviderWebhook(newRealIngestor(t, &countingProcessor{}), webhookConfig(), quietLogger())

	rec := deliver(handler, body, webhooks.Sign([]byte(body), secret))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProviderWebhook_RejectsOversizedBody(t *testing.T) {
	cfg := webhookConfig()
	cfg.MaxBodyBytes = 16
	handler := ProviderWebhook(stubIngestor{}, cfg, quietLogger())

	rec := deliver(handler, eventBody, "sig")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProviderWebhook_RecordFailureIsServiceUnavailable(t *testing.T) {
	ing := stubIngestor{err: pkgerrors.New(pkgerrors.CodeDependency, "record webhook event")}
	handler := ProviderWebhook(ing, webhookConfig(), quietLogger())

	rec := deliver(handler, eventBody, "sig")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var env types.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if env.Error.Code != string(pkgerrors.CodeDependency) {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}
