package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/puttlab-backend/api/responses"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const (
	CronSecretHeader  = "X-Cron-Secret"
	AdminSecretHeader = "X-Admin-Secret"
)

// SharedSecret guards internal endpoints with a static secret compared in
// constant time. An unset secret disables the guarded routes entirely.
func SharedSecret(header, secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if len(expected) == 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "endpoint disabled"))
				return
			}
			provided := []byte(r.Header.Get(header))
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "header", header), "internal.auth.rejected")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
