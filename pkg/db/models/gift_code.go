package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/puttlab-backend/pkg/enums"
)

// GiftCode is issued by the subscription engine and redeemed elsewhere.
// (source_event_id, sequence) is unique so replays cannot mint extra codes.
type GiftCode struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OwnerPlayerID      uuid.UUID            `gorm:"column:owner_player_id;type:uuid;not null;index"`
	Code               string               `gorm:"column:code;type:text;not null;uniqueIndex"`
	PlanID             string               `gorm:"column:plan_id;type:text;not null"`
	Status             enums.GiftCodeStatus `gorm:"column:status;type:text;not null;default:'unredeemed'"`
	RedeemedByPlayerID *uuid.UUID           `gorm:"column:redeemed_by_player_id;type:uuid"`
	RedeemedAt         *time.Time           `gorm:"column:redeemed_at"`
	BundleID           *string              `gorm:"column:bundle_id;type:text"`
	SourceEventID      string               `gorm:"column:source_event_id;type:text;not null;uniqueIndex:idx_gift_codes_source_slot"`
	Sequence           int                  `gorm:"column:sequence;not null;uniqueIndex:idx_gift_codes_source_slot"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (GiftCode) TableName() string { return "gift_codes" }

func (g *GiftCode) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
