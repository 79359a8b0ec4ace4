package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/puttlab-backend/pkg/enums"
)

// Player is the account record. Identity columns belong to the account
// service; the subscription columns are written by the reconciliation engine
// and the admin override path through field-scoped updates only.
type Player struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email       string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;type:text;not null;default:''"`

	SubscriptionStatus       enums.SubscriptionStatus `gorm:"column:subscription_status;type:text;not null;default:'inactive';index"`
	SubscriptionTier         *enums.SubscriptionTier  `gorm:"column:subscription_tier;type:text"`
	BillingCycle             enums.BillingCycle       `gorm:"column:billing_cycle;type:text;not null;default:'none'"`
	PlanID                   *string                  `gorm:"column:plan_id;type:text"`
	ProviderCustomerID       *string                  `gorm:"column:provider_customer_id;type:text;index"`
	ProviderSubscriptionID   *string                  `gorm:"column:provider_subscription_id;type:text"`
	ProviderPaymentProfileID *string                  `gorm:"column:provider_payment_profile_id;type:text"`
	PeriodStart              *time.Time               `gorm:"column:period_start"`
	PeriodEnd                *time.Time               `gorm:"column:period_end;index"`
	CancelAtPeriodEnd        bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	IsSubscribed             bool                     `gorm:"column:is_subscribed;not null;default:false"`
	LastPaidAt               *time.Time               `gorm:"column:last_paid_at"`
	StatusSource             enums.StatusSource       `gorm:"column:status_source;type:text;not null;default:'engine'"`
	StatusChangedAt          *time.Time               `gorm:"column:status_changed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Player) TableName() string { return "players" }

// BeforeCreate assigns an identifier when the caller did not.
func (p *Player) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
