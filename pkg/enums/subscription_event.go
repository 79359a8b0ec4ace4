package enums

import (
	"fmt"
	"strings"
)

// SubscriptionEventType is the provider-agnostic event name the state machine consumes.
type SubscriptionEventType string

const (
	SubscriptionEventOrderPaid            SubscriptionEventType = "order_paid"
	SubscriptionEventPaymentSucceeded     SubscriptionEventType = "payment_succeeded"
	SubscriptionEventInvoicePaid          SubscriptionEventType = "invoice_paid"
	SubscriptionEventInvoicePaymentFailed SubscriptionEventType = "invoice_payment_failed"
	SubscriptionEventCanceled             SubscriptionEventType = "subscription_canceled"
	SubscriptionEventExpired              SubscriptionEventType = "subscription_expired"
)

// providerEventTypes maps the provider's dotted names onto normalized names.
var providerEventTypes = map[string]SubscriptionEventType{
	"order.paid":             SubscriptionEventOrderPaid,
	"payment.succeeded":      SubscriptionEventPaymentSucceeded,
	"invoice.paid":           SubscriptionEventInvoicePaid,
	"invoice.payment_failed": SubscriptionEventInvoicePaymentFailed,
	"subscription.canceled":  SubscriptionEventCanceled,
	"subscription.expired":   SubscriptionEventExpired,
}

// String implements fmt.Stringer.
func (e SubscriptionEventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a normalized event name.
func (e SubscriptionEventType) IsValid() bool {
	for _, candidate := range providerEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsPayment reports whether the event records money received.
func (e SubscriptionEventType) IsPayment() bool {
	switch e {
	case SubscriptionEventOrderPaid, SubscriptionEventPaymentSucceeded, SubscriptionEventInvoicePaid:
		return true
	}
	return false
}

// NormalizeSubscriptionEventType accepts either the provider's dotted name or
// an already-normalized name.
func NormalizeSubscriptionEventType(raw string) (SubscriptionEventType, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if normalized, ok := providerEventTypes[value]; ok {
		return normalized, nil
	}
	if candidate := SubscriptionEventType(value); candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unsupported subscription event type %q", raw)
}
