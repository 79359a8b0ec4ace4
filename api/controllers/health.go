package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/puttlab-backend/api/responses"
	"github.com/angelmondragon/puttlab-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const (
	envHeader    = "X-PuttLab-Env"
	readyTimeout = 2 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and, when configured, Redis. A nil redis
// pinger means Redis is disabled and is reported as such.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP pinger, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "disabled"}
		failed := false
		if err := ping(ctx, dbP); err != nil {
			checks["database"] = err.Error()
			failed = true
		}
		if redisP != nil {
			checks["redis"] = "ok"
			if err := ping(ctx, redisP); err != nil {
				checks["redis"] = err.Error()
				failed = true
			}
		}

		if failed {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

func ping(ctx context.Context, p pinger) error {
	if p == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "not configured")
	}
	return p.Ping(ctx)
}
