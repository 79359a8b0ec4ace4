package webhooks

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const testSecret = "whsec_test"

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"order.paid"}`)
	sig := Sign(body, testSecret)

	tests := []struct {
		name   string
		body   []byte
		header string
		secret string
		want   bool
	}{
		{name: "valid", body: body, header: sig, secret: testSecret, want: true},
		{name: "prefixed", body: body, header: "sha256=" + sig, secret: testSecret, want: true},
		{name: "tampered body", body: []byte(`{"id":"evt_1","type":"order.paid "}`), header: sig, secret: testSecret},
		{name: "wrong secret", body: body, header: sig, secret: "other"},
		{name: "missing header", body: body, header: "", secret: testSecret},
		{name: "not hex", body: body, header: "zz", secret: testSecret},
		{name: "empty secret", body: body, header: Sign(body, ""), secret: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Verify(tc.body, tc.header, tc.secret))
		})
	}
}

func TestVerifierPolicy(t *testing.T) {
	body := []byte(`{}`)
	var logs bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "webhooks-test", Output: &logs})
	ctx := context.Background()

	t.Run("configured secret requires header", func(t *testing.T) {
		v := NewVerifier(testSecret, false, logg)
		err := v.Check(ctx, body, "")
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
		require.NoError(t, v.Check(ctx, body, Sign(body, testSecret)))
	})

	t.Run("production without secret rejects", func(t *testing.T) {
		v := NewVerifier("", true, logg)
		err := v.Check(ctx, body, Sign(body, "anything"))
		assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
	})

	t.Run("dev without secret bypasses with warning", func(t *testing.T) {
		logs.Reset()
		v := NewVerifier("  ", false, logg)
		require.NoError(t, v.Check(ctx, body, ""))
		assert.Contains(t, logs.String(), "webhook.signature.bypassed")
	})
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "webhooks-test", Output: io.Discard})
}
