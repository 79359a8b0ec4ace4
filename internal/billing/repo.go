package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
)

// Repository persists renewal charge failures for later diagnosis.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRenewalFailure(ctx context.Context, failure *models.RenewalFailure) error
	ListRenewalFailuresByPlayer(ctx context.Context, playerID uuid.UUID) ([]models.RenewalFailure, error)
	CountRenewalFailuresSince(ctx context.Context, playerID uuid.UUID, since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRenewalFailure(ctx context.Context, failure *models.RenewalFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}

func (r *repository) ListRenewalFailuresByPlayer(ctx context.Context, playerID uuid.UUID) ([]models.RenewalFailure, error) {
	var failures []models.RenewalFailure
	if err := r.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC").
		Find(&failures).Error; err != nil {
		return nil, err
	}
	return failures, nil
}

func (r *repository) CountRenewalFailuresSince(ctx context.Context, playerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RenewalFailure{}).
		Where("player_id = ? AND created_at >= ?", playerID, since.UTC()).
		Count(&count).Error
	return count, err
}
