package subscriptions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
)

// ErrUnsupportedEventType marks provider events the engine does not act on.
var ErrUnsupportedEventType = errors.New("unsupported event type")

var validate = validator.New()

// ProviderEvent is the webhook envelope sent by the payment provider.
type ProviderEvent struct {
	ID        string     `json:"id" validate:"required,max=255"`
	Type      string     `json:"type" validate:"required,max=128"`
	CreatedAt *time.Time `json:"created_at"`
	Data      EventData  `json:"data"`
}

type EventData struct {
	OrderID          string           `json:"order_id"`
	CustomerID       string           `json:"customer_id"`
	CustomerEmail    string           `json:"customer_email"`
	SubscriptionID   string           `json:"subscription_id"`
	PaymentProfileID string           `json:"payment_profile_id"`
	PlanID           string           `json:"plan_id"`
	Tier             string           `json:"tier"`
	BillingCycle     string           `json:"billing_cycle"`
	BundleID         string           `json:"bundle_id"`
	BundleSize       *int             `json:"bundle_size"`
	BonusGift        *bool            `json:"bonus_gift"`
	Amount           *decimal.Decimal `json:"amount"`
	Currency         string           `json:"currency"`
	PeriodEnd        *time.Time       `json:"period_end"`
	Metadata         map[string]any   `json:"metadata"`
}

// MetadataString returns metadata[key] as a trimmed string.
func (d EventData) MetadataString(key string) string {
	raw, ok := d.Metadata[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", v))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Product is what a payment bought, after catalog lookup and payload overrides.
type Product struct {
	PlanID     string
	Tier       enums.SubscriptionTier
	Cycle      enums.BillingCycle
	BonusGifts int
	BundleSize int
	GiftPlanID string
}

func (p Product) IsBundle() bool { return p.BundleSize > 0 }

// Known reports whether the product carries enough to activate a subscription.
func (p Product) Known() bool {
	return p.Tier.IsValid() && p.Tier != enums.SubscriptionTierNone && p.Cycle.IsValid() && p.Cycle != enums.BillingCycleNone
}

// NormalizedEvent is a provider event in the engine's vocabulary.
type NormalizedEvent struct {
	RecordID        uuid.UUID
	ProviderEventID string
	RawType         string
	Type            enums.SubscriptionEventType
	OccurredAt      time.Time
	Data            EventData
	Product         Product
}

// ParseEvent decodes and validates a raw webhook body.
func ParseEvent(raw []byte) (*ProviderEvent, error) {
	var evt ProviderEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	if err := validate.Struct(evt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	return &evt, nil
}

// Normalize maps the provider type and resolves the product. receivedAt
// stands in for the occurrence time when the provider omits created_at.
func Normalize(evt *ProviderEvent, catalog *Catalog, receivedAt time.Time) (NormalizedEvent, error) {
	eventType, err := enums.NormalizeSubscriptionEventType(evt.Type)
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEventType, evt.Type)
	}
	occurred := receivedAt
	if evt.CreatedAt != nil && !evt.CreatedAt.IsZero() {
		occurred = *evt.CreatedAt
	}
	return NormalizedEvent{
		ProviderEventID: evt.ID,
		RawType:         evt.Type,
		Type:            eventType,
		OccurredAt:      occurred.UTC(),
		Data:            evt.Data,
		Product:         ResolveProduct(evt.Data, catalog),
	}, nil
}

// ResolveProduct starts from the catalog entry for plan_id and lets explicit
// payload fields override it.
func ResolveProduct(data EventData, catalog *Catalog) Product {
	product := Product{PlanID: strings.TrimSpace(data.PlanID)}
	if plan, ok := catalog.Lookup(product.PlanID); ok {
		product.Tier = plan.Tier
		product.Cycle = plan.Cycle
		product.BonusGifts = plan.BonusGifts
		product.BundleSize = plan.BundleSize
		product.GiftPlanID = plan.GiftPlanID
	}
	if tier, err := enums.ParseSubscriptionTier(strings.ToLower(strings.TrimSpace(data.Tier))); err == nil {
		product.Tier = tier
	}
	if cycle, err := enums.ParseBillingCycle(strings.ToLower(strings.TrimSpace(data.BillingCycle))); err == nil {
		product.Cycle = cycle
	}
	if data.BundleSize != nil {
		product.BundleSize = *data.BundleSize
	}
	if data.BonusGift != nil {
		product.BonusGifts = 0
		if *data.BonusGift {
			product.BonusGifts = 1
		}
	}
	if product.GiftPlanID == "" {
		product.GiftPlanID = product.PlanID
	}
	return product
}
