package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const signaturePrefix = "sha256="

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header carries the HMAC of the raw body. A leading
// "sha256=" is accepted. Comparison is constant time.
func Verify(body []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	if len(header) > len(signaturePrefix) && strings.EqualFold(header[:len(signaturePrefix)], signaturePrefix) {
		header = header[len(signaturePrefix):]
	}
	given, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// Verifier applies the deployment policy around Verify.
type Verifier struct {
	secret     string
	production bool
	logg       *logger.Logger
}

func NewVerifier(secret string, production bool, logg *logger.Logger) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), production: production, logg: logg}
}

// Check returns a CodeUnauthorized error when the delivery must be rejected.
// Without a secret, production rejects everything and other environments
// accept with a warning.
func (v *Verifier) Check(ctx context.Context, body []byte, header string) error {
	if v.secret == "" {
		if v.production {
			v.logg.Warn(ctx, "webhook.signature.secret_missing")
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signing secret not configured")
		}
		v.logg.Warn(ctx, "webhook.signature.bypassed")
		return nil
	}
	if strings.TrimSpace(header) == "" {
		v.logg.Warn(ctx, "webhook.signature.missing")
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing")
	}
	if !Verify(body, header, v.secret) {
		v.logg.Warn(ctx, "webhook.signature.invalid")
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature invalid")
	}
	return nil
}
