package enums

import (
	"fmt"
	"time"
)

// BillingCycle defines how long a paid period lasts.
type BillingCycle string

const (
	BillingCycleMonthly  BillingCycle = "monthly"
	BillingCycleAnnual   BillingCycle = "annual"
	BillingCycleLifetime BillingCycle = "lifetime"
	BillingCycleCoupon   BillingCycle = "coupon"
	BillingCycleNone     BillingCycle = "none"
)

var validBillingCycles = []BillingCycle{
	BillingCycleMonthly,
	BillingCycleAnnual,
	BillingCycleLifetime,
	BillingCycleCoupon,
	BillingCycleNone,
}

// String implements fmt.Stringer.
func (b BillingCycle) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingCycle.
func (b BillingCycle) IsValid() bool {
	for _, candidate := range validBillingCycles {
		if candidate == b {
			return true
		}
	}
	return false
}

// PeriodEnd returns the end of a period that starts at from. The second value
// is false for cycles without an end (lifetime) or without a period (none).
func (b BillingCycle) PeriodEnd(from time.Time) (time.Time, bool) {
	switch b {
	case BillingCycleMonthly, BillingCycleCoupon:
		return from.AddDate(0, 1, 0), true
	case BillingCycleAnnual:
		return from.AddDate(1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// ParseBillingCycle converts raw input into a BillingCycle.
func ParseBillingCycle(value string) (BillingCycle, error) {
	for _, candidate := range validBillingCycles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}
