package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/internal/giftcodes"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/internal/webhookevents"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/metrics"
)

// errConcurrentUpdate means the player row changed between read and write.
// The event stays unprocessed and the replay job picks it up.
var errConcurrentUpdate = pkgerrors.New(pkgerrors.CodeConflict, "player subscription changed concurrently")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProcessorParams wires the event processor.
type ProcessorParams struct {
	TxRunner txRunner
	Events   webhookevents.Repository
	Players  players.Repository
	Gifts    giftcodes.Repository
	Issuer   *giftcodes.Issuer
	Catalog  *Catalog
	Resolver *Resolver
	Sink     events.Sink
	Metrics  *metrics.SubscriptionMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Processor applies recorded webhook events to player subscriptions.
type Processor struct {
	tx       txRunner
	events   webhookevents.Repository
	players  players.Repository
	gifts    giftcodes.Repository
	issuer   *giftcodes.Issuer
	catalog  *Catalog
	resolver *Resolver
	sink     events.Sink
	metrics  *metrics.SubscriptionMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repo required")
	}
	if params.Players == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "player repo required")
	}
	if params.Gifts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gift code repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	p := &Processor{
		tx:       params.TxRunner,
		events:   params.Events,
		players:  params.Players,
		gifts:    params.Gifts,
		issuer:   params.Issuer,
		catalog:  params.Catalog,
		resolver: params.Resolver,
		sink:     params.Sink,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      params.Now,
	}
	if p.issuer == nil {
		p.issuer = giftcodes.NewIssuer(nil)
	}
	if p.catalog == nil {
		p.catalog = DefaultCatalog()
	}
	if p.resolver == nil {
		p.resolver = NewResolver(p.players)
	}
	if p.sink == nil {
		p.sink = events.Discard{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

type applied struct {
	player   *models.Player
	decision Decision
	gifts    []models.GiftCode
}

// ProcessEvent loads the recorded event, resolves its player and applies the
// transition. The player update, gift codes and processed flag commit in one
// transaction. Any failure, a panic included, is written back onto the event
// row so the replay cap still applies.
func (p *Processor) ProcessEvent(ctx context.Context, recordID uuid.UUID) (err error) {
	start := time.Now()
	record, err := p.events.Find(ctx, recordID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}
	if record.Processed {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(ctx, record, nil, fmt.Errorf("panic processing webhook event: %v", r))
		}
	}()
	ctx = p.logg.WithProviderEventID(ctx, record.ProviderEventID)
	ctx = p.logg.WithField(ctx, "event_type", record.EventType)

	parsed, err := ParseEvent([]byte(record.RawPayload))
	if err != nil {
		return p.fail(ctx, record, nil, err)
	}
	evt, err := Normalize(parsed, p.catalog, record.CreatedAt)
	if errors.Is(err, ErrUnsupportedEventType) {
		if markErr := p.events.MarkProcessed(ctx, record.ID, nil, p.now()); markErr != nil && !errors.Is(markErr, webhookevents.ErrAlreadyProcessed) {
			return p.fail(ctx, record, nil, markErr)
		}
		p.metrics.IncWebhook("ignored")
		p.logg.Info(ctx, "webhook.event.ignored")
		return nil
	}
	if err != nil {
		return p.fail(ctx, record, nil, err)
	}
	evt.RecordID = record.ID

	player, source, err := p.resolver.Resolve(ctx, evt)
	if err != nil {
		if errors.Is(err, ErrPlayerUnresolved) {
			err = pkgerrors.Wrap(pkgerrors.CodeNotFound, err,
				"no player matched metadata player_id, user_id, customer_id or email")
		}
		return p.fail(ctx, record, nil, err)
	}
	ctx = p.logg.WithPlayerID(ctx, player.ID.String())
	ctx = p.logg.WithField(ctx, "resolved_by", source)

	var result applied
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := p.apply(ctx, tx, record, player.ID, evt)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if errors.Is(err, webhookevents.ErrAlreadyProcessed) {
		p.logg.Info(ctx, "webhook.event.already_processed")
		return nil
	}
	if err != nil {
		return p.fail(ctx, record, &player.ID, err)
	}

	p.metrics.IncWebhook("processed")
	p.emit(ctx, evt, result, time.Since(start))
	return nil
}

// apply claims the event row first so a concurrent worker on the same event
// backs off with ErrAlreadyProcessed instead of racing the player update.
func (p *Processor) apply(ctx context.Context, tx *gorm.DB, record *models.WebhookEvent, playerID uuid.UUID, evt NormalizedEvent) (applied, error) {
	now := p.now().UTC()
	if err := p.events.WithTx(tx).MarkProcessed(ctx, record.ID, &playerID, now); err != nil {
		return applied{}, err
	}

	playerRepo := p.players.WithTx(tx)
	current, err := playerRepo.FindByID(ctx, playerID)
	if err != nil {
		return applied{}, fmt.Errorf("reload player: %w", err)
	}
	decision, err := Decide(current, WithStoredPlan(evt, current, p.catalog), now)
	if err != nil {
		return applied{}, err
	}
	result := applied{player: current, decision: decision}

	if decision.Fields != nil {
		changed, err := playerRepo.UpdateSubscription(ctx, current.ID, decision.Guard, decision.Fields)
		if err != nil {
			return applied{}, fmt.Errorf("update player subscription: %w", err)
		}
		if !changed {
			return applied{}, errConcurrentUpdate
		}
	}

	if decision.Gifts > 0 {
		issued, err := p.issuer.Issue(ctx, p.gifts.WithTx(tx), giftcodes.IssueRequest{
			OwnerID:       current.ID,
			PlanID:        decision.GiftPlanID,
			BundleID:      decision.BundleID,
			SourceEventID: evt.ProviderEventID,
			Count:         decision.Gifts,
		})
		if err != nil {
			return applied{}, err
		}
		result.gifts = issued
	}
	return result, nil
}

func (p *Processor) emit(ctx context.Context, evt NormalizedEvent, result applied, duration time.Duration) {
	d := result.decision
	operation := "webhook." + evt.Type.String()
	base := events.Event{
		Operation: operation,
		PlayerID:  result.player.ID,
		OldStatus: d.From.String(),
		NewStatus: d.To.String(),
		Duration:  duration,
		Fields: map[string]any{
			"provider_event_id": evt.ProviderEventID,
			"plan_id":           evt.Product.PlanID,
		},
	}
	switch {
	case d.Skip != "":
		base.Name = events.NameSkipped
		base.Reason = d.Skip
		p.sink.Emit(ctx, base)
	case d.Fields != nil:
		base.Name = events.NameTransition
		base.Reason = enums.TransitionReasonProviderEvent.String()
		p.sink.Emit(ctx, base)
	}
	if len(result.gifts) > 0 {
		gift := base
		gift.Name = events.NameGiftIssued
		gift.Reason = ""
		gift.Fields = map[string]any{
			"provider_event_id": evt.ProviderEventID,
			"gift_plan_id":      d.GiftPlanID,
			"count":             len(result.gifts),
		}
		p.sink.Emit(ctx, gift)
	}
}

// fail records err on the event row outside any transaction and returns it.
func (p *Processor) fail(ctx context.Context, record *models.WebhookEvent, playerID *uuid.UUID, err error) error {
	p.metrics.IncWebhook("failed")
	if markErr := p.events.MarkFailed(ctx, record.ID, playerID, err.Error()); markErr != nil {
		p.logg.Error(ctx, "webhook.event.mark_failed_error", markErr)
	}
	p.logg.Error(p.logg.WithField(ctx, "retry_count", record.RetryCount+1), "webhook.event.failed", err)
	return err
}
