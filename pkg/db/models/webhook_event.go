package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is the append-only ledger of provider deliveries. The unique
// provider_event_id is the idempotency boundary.
type WebhookEvent struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProviderEventID  string     `gorm:"column:provider_event_id;type:text;not null;uniqueIndex"`
	EventType        string     `gorm:"column:event_type;type:text;not null"`
	ResolvedPlayerID *uuid.UUID `gorm:"column:resolved_player_id;type:uuid;index"`
	RawPayload       string     `gorm:"column:raw_payload;type:text;not null"`
	Processed        bool       `gorm:"column:processed;not null;default:false;index"`
	ProcessingError  *string    `gorm:"column:processing_error;type:text"`
	RetryCount       int        `gorm:"column:retry_count;not null;default:0"`
	OccurredAt       *time.Time `gorm:"column:occurred_at"`
	ProcessedAt      *time.Time `gorm:"column:processed_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
