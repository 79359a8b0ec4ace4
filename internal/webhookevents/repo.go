// Package webhookevents is the append-only ledger of provider webhook
// deliveries and the idempotency guard in front of event processing.
package webhookevents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
)

const maxErrorLength = 2000

// ErrAlreadyProcessed is returned by MarkProcessed when another worker
// finished the event first.
var ErrAlreadyProcessed = errors.New("webhook event already processed")

// RecordResult reports whether RecordIfNew inserted a new row.
type RecordResult struct {
	IsNew    bool
	RecordID uuid.UUID
}

// ReplayQuery selects unprocessed events eligible for another attempt.
type ReplayQuery struct {
	OlderThan  time.Time
	MaxRetries int
	Limit      int
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	RecordIfNew(ctx context.Context, providerEventID, eventType string, payload []byte, occurredAt *time.Time) (RecordResult, error)
	Find(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	FindByProviderEventID(ctx context.Context, providerEventID string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, playerID *uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, playerID *uuid.UUID, reason string) error
	ListUnprocessed(ctx context.Context, query ReplayQuery) ([]models.WebhookEvent, error)
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

// RecordIfNew inserts the delivery keyed by provider_event_id. The unique
// index decides the race; no read precedes the write.
func (r *repository) RecordIfNew(ctx context.Context, providerEventID, eventType string, payload []byte, occurredAt *time.Time) (RecordResult, error) {
	row := &models.WebhookEvent{
		ProviderEventID: providerEventID,
		EventType:       eventType,
		RawPayload:      string(payload),
		OccurredAt:      utcPtr(occurredAt),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_event_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return RecordResult{}, res.Error
	}
	if res.RowsAffected == 1 {
		return RecordResult{IsNew: true, RecordID: row.ID}, nil
	}
	existing, err := r.FindByProviderEventID(ctx, providerEventID)
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{IsNew: false, RecordID: existing.ID}, nil
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var evt models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&evt).Error; err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *repository) FindByProviderEventID(ctx context.Context, providerEventID string) (*models.WebhookEvent, error) {
	var evt models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider_event_id = ?", providerEventID).First(&evt).Error; err != nil {
		return nil, err
	}
	return &evt, nil
}

// MarkProcessed flips processed only while it is still false, so two workers
// racing on the same event cannot both commit their effects.
func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, playerID *uuid.UUID, at time.Time) error {
	fields := map[string]any{
		"processed":        true,
		"processed_at":     at.UTC(),
		"processing_error": nil,
	}
	if playerID != nil {
		fields["resolved_player_id"] = *playerID
	}
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, playerID *uuid.UUID, reason string) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	fields := map[string]any{
		"processing_error": reason,
		"retry_count":      gorm.Expr("retry_count + 1"),
	}
	if playerID != nil {
		fields["resolved_player_id"] = *playerID
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(fields).Error
}

func (r *repository) ListUnprocessed(ctx context.Context, query ReplayQuery) ([]models.WebhookEvent, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Where("created_at < ?", query.OlderThan.UTC())
	if query.MaxRetries > 0 {
		q = q.Where("retry_count < ?", query.MaxRetries)
	}
	var rows []models.WebhookEvent
	if err := q.Order("created_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
