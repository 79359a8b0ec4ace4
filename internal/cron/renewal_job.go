package cron

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/puttlab-backend/internal/billing"
	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/internal/subscriptions"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/provider"
)

const (
	RenewalSweepJobName = "subscription-renewal-sweep"

	defaultRenewalLookahead = 72 * time.Hour
	defaultRenewalCurrency  = "USD"

	// Order metadata keys the sweep uses to recognise its own renewal orders.
	metaPlayerID         = "player_id"
	metaRenewalPeriodEnd = "renewal_period_end"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type renewalProvider interface {
	CreateOrder(ctx context.Context, req provider.OrderRequest) (*provider.Order, error)
	ChargeSavedProfile(ctx context.Context, orderID, profileID string) (*provider.Charge, error)
	ListOrders(ctx context.Context, filter provider.OrderFilter) ([]provider.Order, error)
}

// RenewalSweepParams configures the renewal sweep.
type RenewalSweepParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Players   players.Repository
	Billing   billing.Repository
	Provider  renewalProvider
	Catalog   *subscriptions.Catalog
	Sink      events.Sink
	Currency  string
	Lookahead time.Duration
	ItemDelay time.Duration
	Limit     int
	Now       func() time.Time
}

// RenewalSweepJob charges monthly subscriptions that are about to end. It
// never extends the period itself: the provider's invoice_paid webhook does
// that through the regular event path.
type RenewalSweepJob struct {
	logg      *logger.Logger
	db        txRunner
	players   players.Repository
	billing   billing.Repository
	provider  renewalProvider
	catalog   *subscriptions.Catalog
	sink      events.Sink
	currency  string
	lookahead time.Duration
	itemDelay time.Duration
	limit     int
	now       func() time.Time
}

func NewRenewalSweepJob(params RenewalSweepParams) (*RenewalSweepJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Players == nil {
		return nil, fmt.Errorf("player repository required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	catalog := params.Catalog
	if catalog == nil {
		catalog = subscriptions.DefaultCatalog()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = defaultRenewalCurrency
	}
	lookahead := params.Lookahead
	if lookahead <= 0 {
		lookahead = defaultRenewalLookahead
	}
	return &RenewalSweepJob{
		logg:      params.Logger,
		db:        params.DB,
		players:   params.Players,
		billing:   params.Billing,
		provider:  params.Provider,
		catalog:   catalog,
		sink:      sinkOrDiscard(params.Sink),
		currency:  currency,
		lookahead: lookahead,
		itemDelay: params.ItemDelay,
		limit:     params.Limit,
		now:       nowOrDefault(params.Now),
	}, nil
}

func (j *RenewalSweepJob) Name() string { return RenewalSweepJobName }

func (j *RenewalSweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

type renewalOutcome int

const (
	renewalCharged renewalOutcome = iota
	renewalSkipped
	renewalFailed
)

func (j *RenewalSweepJob) Sweep(ctx context.Context) (Tally, error) {
	var tally Tally
	now := j.now().UTC()
	due, err := j.players.ListDueForRenewal(ctx, players.RenewalQuery{
		EndsAfter:  now,
		EndsBefore: now.Add(j.lookahead),
		Limit:      j.limit,
	})
	if err != nil {
		return tally, fmt.Errorf("list players due for renewal: %w", err)
	}
	tally.Candidates = len(due)

	var errs error
	for i := range due {
		if i > 0 {
			if err := pause(ctx, j.itemDelay); err != nil {
				return tally, multierr.Append(errs, err)
			}
		}
		outcome, err := j.renew(ctx, &due[i])
		switch outcome {
		case renewalCharged:
			tally.Succeeded++
		case renewalSkipped:
			tally.Skipped++
		default:
			tally.Failed++
		}
		errs = multierr.Append(errs, err)
	}
	return tally, errs
}

// RenewalKey is the idempotency key for one player's renewal of one period.
func RenewalKey(playerID uuid.UUID, periodEnd time.Time) string {
	return fmt.Sprintf("renewal:%s:%d", playerID, periodEnd.Unix())
}

func (j *RenewalSweepJob) renew(ctx context.Context, player *models.Player) (renewalOutcome, error) {
	periodEnd := player.PeriodEnd.UTC()
	profileID := strings.TrimSpace(deref(player.ProviderPaymentProfileID))
	customerID := strings.TrimSpace(deref(player.ProviderCustomerID))
	if customerID == "" {
		customerID = player.ID.String()
	}
	logCtx := j.logg.WithPlayerID(ctx, player.ID.String())
	logCtx = j.logg.WithFields(logCtx, map[string]any{
		"period_end": periodEnd,
		"customer":   customerID,
	})

	plan, ok := j.renewalPlan(player)
	if !ok {
		err := fmt.Errorf("player %s: no renewable monthly plan for %q", player.ID, deref(player.PlanID))
		j.logg.Error(logCtx, "renewal.plan_unknown", err)
		return renewalFailed, err
	}

	periodKey := strconv.FormatInt(periodEnd.Unix(), 10)
	existing, err := j.provider.ListOrders(logCtx, provider.OrderFilter{
		CustomerID:   customerID,
		Statuses:     []provider.OrderStatus{provider.OrderStatusPending, provider.OrderStatusPaid},
		CreatedAfter: periodEnd.AddDate(0, -1, 0),
	})
	if err != nil {
		// Nothing was charged, so the player keeps their status; the next
		// run retries.
		j.logg.Error(logCtx, "renewal.list_orders_failed", err)
		return renewalFailed, fmt.Errorf("player %s: list orders: %w", player.ID, err)
	}

	var order *provider.Order
	for i := range existing {
		if existing[i].Metadata[metaRenewalPeriodEnd] != periodKey {
			continue
		}
		if existing[i].Status == provider.OrderStatusPaid {
			j.logg.Info(j.logg.WithField(logCtx, "order_id", existing[i].ID), "renewal.already_paid")
			return renewalSkipped, nil
		}
		order = &existing[i]
	}

	if order == nil {
		order, err = j.provider.CreateOrder(logCtx, provider.OrderRequest{
			CustomerID:  customerID,
			PlanID:      plan.ID,
			Amount:      plan.Price,
			Currency:    j.currency,
			Description: "PuttLab " + plan.ID + " renewal",
			Metadata: map[string]string{
				metaPlayerID:         player.ID.String(),
				metaRenewalPeriodEnd: periodKey,
				"plan_id":            plan.ID,
			},
			IdempotencyKey: RenewalKey(player.ID, periodEnd),
		})
		if err != nil {
			return renewalFailed, j.recordFailure(logCtx, player, "create_order", "", err)
		}
	}
	logCtx = j.logg.WithField(logCtx, "order_id", order.ID)

	charge, err := j.provider.ChargeSavedProfile(logCtx, order.ID, profileID)
	if err == nil && strings.EqualFold(charge.Status, string(provider.OrderStatusFailed)) {
		err = fmt.Errorf("charge %s declined", charge.ID)
	}
	if err != nil {
		return renewalFailed, j.recordFailure(logCtx, player, "charge_saved_profile", order.ID, err)
	}

	j.logg.Info(logCtx, "renewal.charged")
	j.sink.Emit(logCtx, events.Event{
		Name:      events.NameRenewalCharged,
		Operation: RenewalSweepJobName,
		PlayerID:  player.ID,
		OldStatus: player.SubscriptionStatus.String(),
		NewStatus: player.SubscriptionStatus.String(),
		Fields: map[string]any{
			"order_id":   order.ID,
			"charge_id":  charge.ID,
			"plan_id":    plan.ID,
			"amount":     plan.Price.StringFixed(2),
			"period_end": periodEnd,
		},
	})
	return renewalCharged, nil
}

// renewalPlan finds the monthly plan to bill: the stored plan when it is
// monthly, otherwise the monthly plan of the player's tier.
func (j *RenewalSweepJob) renewalPlan(player *models.Player) (subscriptions.Plan, bool) {
	if player.PlanID != nil {
		if plan, ok := j.catalog.Lookup(*player.PlanID); ok && plan.Cycle == enums.BillingCycleMonthly && plan.Price.IsPositive() {
			return plan, true
		}
	}
	if player.SubscriptionTier == nil {
		return subscriptions.Plan{}, false
	}
	for _, plan := range j.catalog.Plans() {
		if plan.Tier == *player.SubscriptionTier && plan.Cycle == enums.BillingCycleMonthly && plan.Price.IsPositive() {
			return plan, true
		}
	}
	return subscriptions.Plan{}, false
}

// recordFailure moves the player to past_due and stores the provider's
// answer. Both writes commit together; the status change is conditional so a
// webhook that already settled the renewal wins.
func (j *RenewalSweepJob) recordFailure(ctx context.Context, player *models.Player, operation, orderID string, cause error) error {
	now := j.now().UTC()
	failure := &models.RenewalFailure{
		PlayerID:   player.ID,
		Operation:  operation,
		Reason:     truncate(cause.Error(), 2000),
		StatusCode: provider.StatusCode(cause),
		PeriodEnd:  player.PeriodEnd,
	}
	if orderID != "" {
		failure.OrderID = &orderID
	}
	if body := provider.ResponseBody(cause); body != "" {
		failure.ProviderBody = &body
	}

	active := enums.SubscriptionStatusActive
	notCanceling := false
	var changed bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		changed, err = j.players.WithTx(tx).UpdateSubscription(ctx, player.ID,
			players.Guard{Status: &active, CancelAtPeriodEnd: &notCanceling},
			subscriptions.PastDueFields(now))
		if err != nil {
			return fmt.Errorf("mark past due: %w", err)
		}
		return j.billing.WithTx(tx).CreateRenewalFailure(ctx, failure)
	})

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"operation":   operation,
		"status_code": failure.StatusCode,
		"retryable":   isRetryable(cause),
	})
	j.logg.Error(logCtx, "renewal.failed", cause)
	if err != nil {
		j.logg.Error(logCtx, "renewal.failure_record_failed", err)
		return multierr.Append(provider.DomainError(cause), err)
	}

	fields := map[string]any{"operation": operation, "status_code": failure.StatusCode}
	if orderID != "" {
		fields["order_id"] = orderID
	}
	j.sink.Emit(ctx, events.Event{
		Name:      events.NameRenewalFailed,
		Operation: RenewalSweepJobName,
		PlayerID:  player.ID,
		OldStatus: player.SubscriptionStatus.String(),
		NewStatus: enums.SubscriptionStatusPastDue.String(),
		Reason:    failure.Reason,
		Fields:    fields,
	})
	if changed {
		j.sink.Emit(ctx, events.Event{
			Name:      events.NameTransition,
			Operation: RenewalSweepJobName,
			PlayerID:  player.ID,
			OldStatus: player.SubscriptionStatus.String(),
			NewStatus: enums.SubscriptionStatusPastDue.String(),
			Reason:    enums.TransitionReasonRenewalFailed.String(),
		})
	}
	return fmt.Errorf("player %s: %s: %w", player.ID, operation, provider.DomainError(cause))
}

func isRetryable(err error) bool {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return errors.Is(err, provider.ErrTimeout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
