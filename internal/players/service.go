package players

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/pkg/db"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

// AdminOverride is a human-set subscription state. Nil fields keep the
// stored value.
type AdminOverride struct {
	Status            enums.SubscriptionStatus
	Tier              *enums.SubscriptionTier
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	Note              string
}

// ServiceParams wires the player service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
	Sink   events.Sink
	Now    func() time.Time
}

// Service exposes the admin override path over the account store.
type Service struct {
	repo Repository
	logg *logger.Logger
	sink events.Sink
	now  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("player repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	sink := params.Sink
	if sink == nil {
		sink = events.Discard{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repo, logg: params.Logger, sink: sink, now: now}, nil
}

// ApplyAdminOverride writes the override and stamps status_source=admin so the
// engine does not resurrect an older status from a late webhook.
func (s *Service) ApplyAdminOverride(ctx context.Context, playerID uuid.UUID, override AdminOverride) (*models.Player, error) {
	if !override.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status")
	}
	if override.Tier != nil && !override.Tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription tier")
	}

	player, err := s.repo.FindByID(ctx, playerID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "player not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load player")
	}

	now := s.now().UTC()
	fields := map[string]any{
		"subscription_status": override.Status,
		"is_subscribed":       override.Status.HasAccess(),
		"status_source":       enums.StatusSourceAdmin,
		"status_changed_at":   now,
	}
	switch {
	case override.Tier != nil && *override.Tier != enums.SubscriptionTierNone:
		fields["subscription_tier"] = *override.Tier
	case override.Tier != nil || !override.Status.HasAccess():
		fields["subscription_tier"] = nil
	}
	if override.PeriodEnd != nil {
		fields["period_end"] = override.PeriodEnd.UTC()
	}
	if override.CancelAtPeriodEnd != nil {
		fields["cancel_at_period_end"] = *override.CancelAtPeriodEnd
	}
	if override.Status == enums.SubscriptionStatusActive && override.PeriodEnd == nil &&
		player.PeriodEnd == nil && player.BillingCycle != enums.BillingCycleLifetime {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period_end required to activate a non-lifetime subscription")
	}

	if _, err := s.repo.UpdateSubscription(ctx, playerID, Guard{}, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply admin override")
	}

	updated, err := s.repo.FindByID(ctx, playerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload player")
	}

	logCtx := s.logg.WithPlayerID(ctx, playerID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"old_status": player.SubscriptionStatus.String(),
		"new_status": override.Status.String(),
		"note":       override.Note,
	})
	s.logg.Warn(logCtx, "subscription.admin_override")
	s.sink.Emit(ctx, events.Event{
		Name:       events.NameTransition,
		Operation:  "admin.override",
		PlayerID:   playerID,
		OldStatus:  player.SubscriptionStatus.String(),
		NewStatus:  override.Status.String(),
		Reason:     enums.TransitionReasonAdminOverride.String(),
		OccurredAt: now,
		Fields:     map[string]any{"note": override.Note},
	})
	return updated, nil
}
