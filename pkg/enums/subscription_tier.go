package enums

import "fmt"

// SubscriptionTier is the feature level unlocked by a plan.
type SubscriptionTier string

const (
	SubscriptionTierNone    SubscriptionTier = "none"
	SubscriptionTierBasic   SubscriptionTier = "basic"
	SubscriptionTierPremium SubscriptionTier = "premium"
	SubscriptionTierFull    SubscriptionTier = "full"
)

var validSubscriptionTiers = []SubscriptionTier{
	SubscriptionTierNone,
	SubscriptionTierBasic,
	SubscriptionTierPremium,
	SubscriptionTierFull,
}

// String implements fmt.Stringer.
func (t SubscriptionTier) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t SubscriptionTier) IsValid() bool {
	for _, candidate := range validSubscriptionTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSubscriptionTier converts raw input into a SubscriptionTier.
func ParseSubscriptionTier(value string) (SubscriptionTier, error) {
	for _, candidate := range validSubscriptionTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription tier %q", value)
}
