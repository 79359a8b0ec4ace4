package players

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
)

// Guard narrows a conditional update. Nil fields are not checked. The update
// only applies when the row still matches, so concurrent writers converge
// instead of clobbering each other.
type Guard struct {
	Status            *enums.SubscriptionStatus
	CancelAtPeriodEnd *bool
	PeriodEndBefore   *time.Time
}

// LapsedQuery selects subscriptions whose paid period has ended.
type LapsedQuery struct {
	Status            enums.SubscriptionStatus
	CancelAtPeriodEnd *bool
	EndedBefore       time.Time
	Limit             int
}

// RenewalQuery selects monthly subscriptions due for an auto-charge.
type RenewalQuery struct {
	EndsAfter  time.Time
	EndsBefore time.Time
	Limit      int
}

// Repository is the account store surface used by the subscription engine.
// Writes go through UpdateSubscription only, which touches the named columns.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, player *models.Player) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Player, error)
	FindByEmail(ctx context.Context, email string) (*models.Player, error)
	FindByProviderCustomerID(ctx context.Context, customerID string) (*models.Player, error)
	UpdateSubscription(ctx context.Context, id uuid.UUID, guard Guard, fields map[string]any) (bool, error)
	ListLapsed(ctx context.Context, query LapsedQuery) ([]models.Player, error)
	ListDueForRenewal(ctx context.Context, query RenewalQuery) ([]models.Player, error)
}

const defaultListLimit = 500

type repository struct {
	db *gorm.DB
}

// NewRepository returns a player repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, player *models.Player) error {
	return r.db.WithContext(ctx).Create(player).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	var player models.Player
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&player).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.Player, error) {
	var player models.Player
	normalized := strings.ToLower(strings.TrimSpace(email))
	if err := r.db.WithContext(ctx).Where("LOWER(email) = ?", normalized).First(&player).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

func (r *repository) FindByProviderCustomerID(ctx context.Context, customerID string) (*models.Player, error) {
	var player models.Player
	if err := r.db.WithContext(ctx).
		Where("provider_customer_id = ?", customerID).
		Order("updated_at DESC").
		First(&player).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

// UpdateSubscription applies fields to one player when guard still holds and
// reports whether a row changed.
func (r *repository) UpdateSubscription(ctx context.Context, id uuid.UUID, guard Guard, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	q := r.db.WithContext(ctx).Model(&models.Player{}).Where("id = ?", id)
	if guard.Status != nil {
		q = q.Where("subscription_status = ?", *guard.Status)
	}
	if guard.CancelAtPeriodEnd != nil {
		q = q.Where("cancel_at_period_end = ?", *guard.CancelAtPeriodEnd)
	}
	if guard.PeriodEndBefore != nil {
		q = q.Where("period_end IS NOT NULL AND period_end < ?", guard.PeriodEndBefore.UTC())
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListLapsed skips rows an admin set after the period ended; those were
// deliberately extended by hand.
func (r *repository) ListLapsed(ctx context.Context, query LapsedQuery) ([]models.Player, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := r.db.WithContext(ctx).
		Where("subscription_status = ?", query.Status).
		Where("period_end IS NOT NULL AND period_end < ?", query.EndedBefore.UTC()).
		Where("NOT (status_source = ? AND status_changed_at IS NOT NULL AND status_changed_at >= period_end)", enums.StatusSourceAdmin)
	if query.CancelAtPeriodEnd != nil {
		q = q.Where("cancel_at_period_end = ?", *query.CancelAtPeriodEnd)
	}
	var players []models.Player
	if err := q.Order("period_end ASC").Limit(limit).Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

func (r *repository) ListDueForRenewal(ctx context.Context, query RenewalQuery) ([]models.Player, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var players []models.Player
	err := r.db.WithContext(ctx).
		Where("subscription_status = ?", enums.SubscriptionStatusActive).
		Where("billing_cycle = ?", enums.BillingCycleMonthly).
		Where("cancel_at_period_end = ?", false).
		Where("provider_payment_profile_id IS NOT NULL AND provider_payment_profile_id <> ''").
		Where("period_end IS NOT NULL AND period_end >= ? AND period_end <= ?", query.EndsAfter.UTC(), query.EndsBefore.UTC()).
		Order("period_end ASC").
		Limit(limit).
		Find(&players).Error
	if err != nil {
		return nil, err
	}
	return players, nil
}
