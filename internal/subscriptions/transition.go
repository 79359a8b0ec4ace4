package subscriptions

import (
	"errors"
	"time"

	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
)

// ErrUnknownProduct is returned when a payment cannot be tied to a tier and
// billing cycle.
var ErrUnknownProduct = errors.New("cannot determine purchased product")

// Skip reasons recorded when an event leaves the player untouched.
const (
	SkipAdminOverride    = "admin_override_newer"
	SkipStalePayment     = "stale_payment_failure"
	SkipNoTransition     = "no_transition"
	SkipAlreadyCanceling = "already_canceling"
)

var (
	anyToActive = map[enums.SubscriptionStatus]enums.SubscriptionStatus{
		enums.SubscriptionStatusInactive: enums.SubscriptionStatusActive,
		enums.SubscriptionStatusActive:   enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue:  enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCanceled: enums.SubscriptionStatusActive,
	}

	// transitions is the full [event][from] -> to table. A missing entry means
	// the event does not apply to a player in that state.
	transitions = map[enums.SubscriptionEventType]map[enums.SubscriptionStatus]enums.SubscriptionStatus{
		enums.SubscriptionEventOrderPaid:        anyToActive,
		enums.SubscriptionEventPaymentSucceeded: anyToActive,
		enums.SubscriptionEventInvoicePaid:      anyToActive,
		enums.SubscriptionEventInvoicePaymentFailed: {
			enums.SubscriptionStatusActive:  enums.SubscriptionStatusPastDue,
			enums.SubscriptionStatusPastDue: enums.SubscriptionStatusPastDue,
		},
		enums.SubscriptionEventCanceled: {
			enums.SubscriptionStatusActive:  enums.SubscriptionStatusActive,
			enums.SubscriptionStatusPastDue: enums.SubscriptionStatusPastDue,
		},
		enums.SubscriptionEventExpired: {
			enums.SubscriptionStatusActive:   enums.SubscriptionStatusCanceled,
			enums.SubscriptionStatusPastDue:  enums.SubscriptionStatusCanceled,
			enums.SubscriptionStatusCanceled: enums.SubscriptionStatusCanceled,
		},
	}
)

// NextStatus looks up the transition table.
func NextStatus(from enums.SubscriptionStatus, event enums.SubscriptionEventType) (enums.SubscriptionStatus, bool) {
	to, ok := transitions[event][from]
	return to, ok
}

// Decision is the computed effect of one event on one player.
type Decision struct {
	From   enums.SubscriptionStatus
	To     enums.SubscriptionStatus
	Fields map[string]any
	Guard  players.Guard
	Skip   string

	Gifts      int
	GiftPlanID string
	BundleID   *string
}

// ChangesStatus reports whether the decision moves the player between states.
func (d Decision) ChangesStatus() bool {
	return d.Fields != nil && d.From != d.To
}

// ExpiryFields is the terminal downgrade written by subscription_expired and
// by the expiry and cancellation sweeps.
func ExpiryFields(now time.Time) map[string]any {
	return map[string]any{
		"subscription_status":  enums.SubscriptionStatusCanceled,
		"subscription_tier":    nil,
		"is_subscribed":        false,
		"cancel_at_period_end": false,
		"status_source":        enums.StatusSourceEngine,
		"status_changed_at":    now.UTC(),
	}
}

// PastDueFields marks a failed charge. Billing identifiers are kept so a
// later retry can still charge the saved profile.
func PastDueFields(now time.Time) map[string]any {
	return map[string]any{
		"subscription_status": enums.SubscriptionStatusPastDue,
		"is_subscribed":       true,
		"status_source":       enums.StatusSourceEngine,
		"status_changed_at":   now.UTC(),
	}
}

// Decide computes the effect of evt on player at now. It never touches
// storage; the result carries a status guard for the conditional update.
func Decide(player *models.Player, evt NormalizedEvent, now time.Time) (Decision, error) {
	now = now.UTC()
	from := player.SubscriptionStatus
	if from == "" {
		from = enums.SubscriptionStatusInactive
	}
	d := Decision{From: from, To: from, Guard: players.Guard{Status: &from}}

	if evt.Type.IsPayment() && evt.Type != enums.SubscriptionEventInvoicePaid && evt.Product.IsBundle() {
		d.Gifts = evt.Product.BundleSize
		d.GiftPlanID = evt.Product.GiftPlanID
		if evt.Data.BundleID != "" {
			bundleID := evt.Data.BundleID
			d.BundleID = &bundleID
		}
		return d, nil
	}

	to, ok := NextStatus(from, evt.Type)
	if !ok {
		d.Skip = SkipNoTransition
		return d, nil
	}

	purchase := evt.Type == enums.SubscriptionEventOrderPaid || evt.Type == enums.SubscriptionEventPaymentSucceeded
	if purchase {
		if !evt.Product.Known() {
			return d, ErrUnknownProduct
		}
		// The bonus gift was paid for even when an admin holds the status.
		d.Gifts = evt.Product.BonusGifts
		d.GiftPlanID = evt.Product.GiftPlanID
	}
	if adminHolds(player, evt) {
		d.Skip = SkipAdminOverride
		return d, nil
	}

	switch evt.Type {
	case enums.SubscriptionEventOrderPaid, enums.SubscriptionEventPaymentSucceeded:
		d.Fields = activationFields(player, evt, evt.Product, now, now)

	case enums.SubscriptionEventInvoicePaid:
		product := evt.Product
		if !product.Known() {
			product = storedProduct(player)
		}
		if !product.Known() {
			return d, ErrUnknownProduct
		}
		start := now
		if player.PeriodEnd != nil && player.PeriodEnd.After(now) {
			start = player.PeriodEnd.UTC()
		}
		d.Fields = activationFields(player, evt, product, now, start)
		// A renewal that lands after a cancel request must not undo it.
		delete(d.Fields, "cancel_at_period_end")

	case enums.SubscriptionEventInvoicePaymentFailed:
		if player.LastPaidAt != nil && evt.OccurredAt.Before(*player.LastPaidAt) {
			d.Skip = SkipStalePayment
			return d, nil
		}
		d.Fields = PastDueFields(now)

	case enums.SubscriptionEventCanceled:
		if player.CancelAtPeriodEnd {
			d.Skip = SkipAlreadyCanceling
			return d, nil
		}
		d.Fields = map[string]any{"cancel_at_period_end": true}

	case enums.SubscriptionEventExpired:
		d.Fields = ExpiryFields(now)
	}

	d.To = to
	return d, nil
}

// adminHolds reports whether an admin set the status after the event
// happened. Cancel requests do not change status and are always applied.
func adminHolds(player *models.Player, evt NormalizedEvent) bool {
	if evt.Type == enums.SubscriptionEventCanceled {
		return false
	}
	if player.StatusSource != enums.StatusSourceAdmin || player.StatusChangedAt == nil {
		return false
	}
	return evt.OccurredAt.Before(*player.StatusChangedAt)
}

// activationFields sets the player active for one billing period starting at
// periodStart. A provider-supplied period end wins over the computed one.
func activationFields(player *models.Player, evt NormalizedEvent, product Product, now, periodStart time.Time) map[string]any {
	fields := map[string]any{
		"subscription_status":  enums.SubscriptionStatusActive,
		"subscription_tier":    product.Tier,
		"billing_cycle":        product.Cycle,
		"period_start":         periodStart,
		"cancel_at_period_end": false,
		"is_subscribed":        true,
		"status_source":        enums.StatusSourceEngine,
		"status_changed_at":    now,
	}
	if product.PlanID != "" {
		fields["plan_id"] = product.PlanID
	}

	switch end, ok := product.Cycle.PeriodEnd(periodStart); {
	case evt.Data.PeriodEnd != nil && evt.Data.PeriodEnd.After(now):
		fields["period_end"] = evt.Data.PeriodEnd.UTC()
	case ok:
		fields["period_end"] = end
	default:
		fields["period_end"] = nil
	}

	if player.LastPaidAt == nil || evt.OccurredAt.After(*player.LastPaidAt) {
		fields["last_paid_at"] = evt.OccurredAt
	}
	if v := evt.Data.CustomerID; v != "" {
		fields["provider_customer_id"] = v
	}
	if v := evt.Data.SubscriptionID; v != "" {
		fields["provider_subscription_id"] = v
	}
	if v := evt.Data.PaymentProfileID; v != "" {
		fields["provider_payment_profile_id"] = v
	}
	return fields
}

// WithStoredPlan fills an invoice_paid product from the player's saved
// plan_id when the payload names none. The expiry sweep clears the tier but
// keeps plan_id, so a late renewal webhook still resolves.
func WithStoredPlan(evt NormalizedEvent, player *models.Player, catalog *Catalog) NormalizedEvent {
	if evt.Type != enums.SubscriptionEventInvoicePaid || evt.Product.Known() {
		return evt
	}
	if player.PlanID == nil || *player.PlanID == "" || evt.Product.PlanID != "" {
		return evt
	}
	data := evt.Data
	data.PlanID = *player.PlanID
	evt.Product = ResolveProduct(data, catalog)
	return evt
}

func storedProduct(player *models.Player) Product {
	product := Product{Cycle: player.BillingCycle}
	if player.SubscriptionTier != nil {
		product.Tier = *player.SubscriptionTier
	}
	if player.PlanID != nil {
		product.PlanID = *player.PlanID
	}
	return product
}
