package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/puttlab-backend/api/responses"
	"github.com/angelmondragon/puttlab-backend/internal/cron"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

type cronTrigger interface {
	Trigger(ctx context.Context, name string) (*cron.Tally, error)
}

type cronRunResponse struct {
	Job   string      `json:"job"`
	Tally *cron.Tally `json:"tally,omitempty"`
	Error string      `json:"error,omitempty"`
}

// CronTrigger runs a single registered job on demand. Sweeps that finish
// with item failures still answer 200; the tally and joined error describe
// what went wrong.
func CronTrigger(svc cronTrigger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cron service unavailable"))
			return
		}

		job := strings.TrimSpace(chi.URLParam(r, "job"))
		if job == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "job is required"))
			return
		}

		tally, err := svc.Trigger(ctx, job)
		if err != nil && tally == nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := cronRunResponse{Job: job, Tally: tally}
		if err != nil {
			resp.Error = err.Error()
		}
		responses.WriteSuccess(w, resp)
	}
}
