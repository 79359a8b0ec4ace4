package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/puttlab-backend/api/responses"
	"github.com/angelmondragon/puttlab-backend/internal/webhooks"
	"github.com/angelmondragon/puttlab-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const defaultMaxBodyBytes int64 = 1 << 20

type ingestor interface {
	Ingest(ctx context.Context, body []byte, signature string) (*webhooks.IngestResult, error)
}

type ackResponse struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// ProviderWebhook acknowledges payment provider deliveries once they are
// durably recorded. Processing happens in the background, so the status code
// only reflects verification and recording.
func ProviderWebhook(ing ingestor, cfg config.WebhookConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ing == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook ingestor unavailable"))
			return
		}

		limit := cfg.MaxBodyBytes
		if limit <= 0 {
			limit = defaultMaxBodyBytes
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		res, err := ing.Ingest(ctx, body, r.Header.Get(cfg.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ackResponse{EventID: res.ProviderEventID, Duplicate: res.Duplicate})
	}
}
