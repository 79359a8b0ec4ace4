package giftcodes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, code *models.GiftCode) (bool, error)
	FindBySlot(ctx context.Context, sourceEventID string, sequence int) (*models.GiftCode, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.GiftCode, error)
	ListBySource(ctx context.Context, sourceEventID string) ([]models.GiftCode, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent reports false when any unique key already holds the row,
// either the (source_event_id, sequence) slot or the code itself. Callers tell
// the two apart with FindBySlot. A bare DO NOTHING keeps the surrounding
// transaction usable on Postgres.
func (r *repository) InsertIfAbsent(ctx context.Context, code *models.GiftCode) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(code)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindBySlot(ctx context.Context, sourceEventID string, sequence int) (*models.GiftCode, error) {
	var code models.GiftCode
	if err := r.db.WithContext(ctx).
		Where("source_event_id = ? AND sequence = ?", sourceEventID, sequence).
		First(&code).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.GiftCode, error) {
	var codes []models.GiftCode
	if err := r.db.WithContext(ctx).
		Where("owner_player_id = ?", ownerID).
		Order("created_at ASC, sequence ASC").
		Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *repository) ListBySource(ctx context.Context, sourceEventID string) ([]models.GiftCode, error) {
	var codes []models.GiftCode
	if err := r.db.WithContext(ctx).
		Where("source_event_id = ?", sourceEventID).
		Order("sequence ASC").
		Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}
