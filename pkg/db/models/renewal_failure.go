package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RenewalFailure records a renewal charge the sweep could not complete.
type RenewalFailure struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	PlayerID     uuid.UUID  `gorm:"column:player_id;type:uuid;not null;index"`
	OrderID      *string    `gorm:"column:order_id;type:text"`
	Operation    string     `gorm:"column:operation;type:text;not null"`
	Reason       string     `gorm:"column:reason;type:text;not null"`
	StatusCode   int        `gorm:"column:status_code;not null;default:0"`
	ProviderBody *string    `gorm:"column:provider_body;type:text"`
	PeriodEnd    *time.Time `gorm:"column:period_end"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (RenewalFailure) TableName() string { return "renewal_failures" }

func (r *RenewalFailure) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
