package subscriptions

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/puttlab-backend/pkg/enums"
)

// Plan is a purchasable product. A plan with BundleSize > 0 is a gift bundle:
// buying it issues codes and leaves the buyer's own subscription alone.
type Plan struct {
	ID         string
	Tier       enums.SubscriptionTier
	Cycle      enums.BillingCycle
	Price      decimal.Decimal
	BonusGifts int
	BundleSize int
	GiftPlanID string
}

func (p Plan) IsBundle() bool { return p.BundleSize > 0 }

// Catalog maps plan ids to plans.
type Catalog struct {
	plans map[string]Plan
}

func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, plan := range plans {
		c.plans[plan.ID] = plan
	}
	return c
}

// DefaultCatalog is the shipped price list.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{ID: "basic-monthly", Tier: enums.SubscriptionTierBasic, Cycle: enums.BillingCycleMonthly, Price: decimal.RequireFromString("4.99")},
		Plan{ID: "premium-monthly", Tier: enums.SubscriptionTierPremium, Cycle: enums.BillingCycleMonthly, Price: decimal.RequireFromString("9.99")},
		Plan{ID: "premium-annual", Tier: enums.SubscriptionTierPremium, Cycle: enums.BillingCycleAnnual, Price: decimal.RequireFromString("79.99"), BonusGifts: 1, GiftPlanID: "premium-monthly"},
		Plan{ID: "full-monthly", Tier: enums.SubscriptionTierFull, Cycle: enums.BillingCycleMonthly, Price: decimal.RequireFromString("14.99")},
		Plan{ID: "full-annual", Tier: enums.SubscriptionTierFull, Cycle: enums.BillingCycleAnnual, Price: decimal.RequireFromString("119.99"), BonusGifts: 1, GiftPlanID: "full-monthly"},
		Plan{ID: "full-lifetime", Tier: enums.SubscriptionTierFull, Cycle: enums.BillingCycleLifetime, Price: decimal.RequireFromString("299.00")},
		Plan{ID: "gift-bundle-3", Tier: enums.SubscriptionTierNone, Cycle: enums.BillingCycleNone, Price: decimal.RequireFromString("24.99"), BundleSize: 3, GiftPlanID: "premium-monthly"},
		Plan{ID: "coupon-monthly", Tier: enums.SubscriptionTierPremium, Cycle: enums.BillingCycleCoupon, Price: decimal.Zero},
	)
}

func (c *Catalog) Lookup(id string) (Plan, bool) {
	if c == nil {
		return Plan{}, false
	}
	plan, ok := c.plans[id]
	return plan, ok
}

// Plans returns every plan ordered by id.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, plan := range c.plans {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
