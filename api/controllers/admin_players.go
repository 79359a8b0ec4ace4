package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/api/responses"
	"github.com/angelmondragon/puttlab-backend/api/validators"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const maxOverrideNoteLen = 500

type adminOverrideService interface {
	ApplyAdminOverride(ctx context.Context, playerID uuid.UUID, override players.AdminOverride) (*models.Player, error)
}

type adminOverrideRequest struct {
	Status            string     `json:"status" validate:"required,oneof=inactive active past_due canceled"`
	Tier              *string    `json:"tier" validate:"omitempty,oneof=none basic premium full"`
	PeriodEnd         *time.Time `json:"period_end"`
	CancelAtPeriodEnd *bool      `json:"cancel_at_period_end"`
	Note              string     `json:"note" validate:"required"`
}

type playerSubscriptionResponse struct {
	PlayerID           uuid.UUID  `json:"player_id"`
	SubscriptionStatus string     `json:"subscription_status"`
	SubscriptionTier   *string    `json:"subscription_tier"`
	BillingCycle       string     `json:"billing_cycle"`
	PeriodEnd          *time.Time `json:"period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	IsSubscribed       bool       `json:"is_subscribed"`
	StatusSource       string     `json:"status_source"`
}

func newPlayerSubscriptionResponse(p *models.Player) playerSubscriptionResponse {
	resp := playerSubscriptionResponse{
		PlayerID:           p.ID,
		SubscriptionStatus: p.SubscriptionStatus.String(),
		BillingCycle:       string(p.BillingCycle),
		PeriodEnd:          p.PeriodEnd,
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
		IsSubscribed:       p.IsSubscribed,
		StatusSource:       string(p.StatusSource),
	}
	if p.SubscriptionTier != nil {
		tier := p.SubscriptionTier.String()
		resp.SubscriptionTier = &tier
	}
	return resp
}

// AdminSubscriptionOverride sets a player's subscription state by hand. The
// write is marked as admin-sourced so stale webhooks cannot undo it.
func AdminSubscriptionOverride(svc adminOverrideService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "player service unavailable"))
			return
		}

		rawID := strings.TrimSpace(chi.URLParam(r, "playerId"))
		playerID, err := uuid.Parse(rawID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid player id"))
			return
		}

		var req adminOverrideRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		override := players.AdminOverride{
			Status:            enums.SubscriptionStatus(req.Status),
			PeriodEnd:         req.PeriodEnd,
			CancelAtPeriodEnd: req.CancelAtPeriodEnd,
			Note:              validators.SanitizeString(req.Note, maxOverrideNoteLen),
		}
		if req.Tier != nil {
			tier := enums.SubscriptionTier(*req.Tier)
			override.Tier = &tier
		}

		player, err := svc.ApplyAdminOverride(ctx, playerID, override)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlayerSubscriptionResponse(player))
	}
}
