package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

func testLogger(out io.Writer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "middleware-test", Output: out})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequestIDPropagatesInboundHeader(t *testing.T) {
	handler := RequestID(testLogger(io.Discard))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestRequestIDMintsWhenMissingOrOversized(t *testing.T) {
	handler := RequestID(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDBytes+1))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	got := rec.Header().Get(requestIDHeader)
	require.NotEmpty(t, got)
	require.LessOrEqual(t, len(got), maxRequestIDBytes)
}

func TestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(testLogger(&buf))(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, buf.String(), "request.complete")
	require.Contains(t, buf.String(), `"status":204`)
}

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(testLogger(io.Discard))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestSharedSecret(t *testing.T) {
	cases := []struct {
		name     string
		secret   string
		provided string
		status   int
	}{
		{name: "match", secret: "s3cret", provided: "s3cret", status: http.StatusNoContent},
		{name: "mismatch", secret: "s3cret", provided: "nope", status: http.StatusUnauthorized},
		{name: "missing header", secret: "s3cret", provided: "", status: http.StatusUnauthorized},
		{name: "unset secret disables route", secret: "", provided: "", status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := SharedSecret(CronSecretHeader, tc.secret, testLogger(io.Discard))(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/internal/cron/x", nil)
			if tc.provided != "" {
				req.Header.Set(CronSecretHeader, tc.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
		})
	}
}
