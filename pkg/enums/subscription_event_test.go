package enums

import (
	"testing"
	"time"
)

func TestNormalizeSubscriptionEventType(t *testing.T) {
	cases := map[string]SubscriptionEventType{
		"order.paid":             SubscriptionEventOrderPaid,
		"Invoice.Paid":           SubscriptionEventInvoicePaid,
		"invoice.payment_failed": SubscriptionEventInvoicePaymentFailed,
		"subscription_expired":   SubscriptionEventExpired,
		" payment.succeeded ":    SubscriptionEventPaymentSucceeded,
	}
	for raw, want := range cases {
		got, err := NormalizeSubscriptionEventType(raw)
		if err != nil {
			t.Fatalf("normalize %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := NormalizeSubscriptionEventType("customer.updated"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestBillingCyclePeriodEnd(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	end, ok := BillingCycleMonthly.PeriodEnd(start)
	if !ok || !end.Equal(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected monthly end %v (%v)", end, ok)
	}
	end, ok = BillingCycleAnnual.PeriodEnd(start)
	if !ok || !end.Equal(time.Date(2027, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected annual end %v (%v)", end, ok)
	}
	if _, ok := BillingCycleLifetime.PeriodEnd(start); ok {
		t.Fatal("lifetime cycle must not have a period end")
	}
}
