package giftcodes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/pkg/db"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
)

const maxCodeAttempts = 5

// IssueRequest asks for Count codes tied to one source event. Slots are
// numbered 1..Count, so repeating the request is a no-op.
type IssueRequest struct {
	OwnerID       uuid.UUID
	PlanID        string
	BundleID      *string
	SourceEventID string
	Count         int
}

// Issuer mints gift codes idempotently per (source event, slot).
type Issuer struct {
	gen Generator
}

func NewIssuer(gen Generator) *Issuer {
	if gen == nil {
		gen = RandomGenerator{}
	}
	return &Issuer{gen: gen}
}

// Issue returns only the codes created by this call. repo should be bound to
// the caller's transaction.
func (i *Issuer) Issue(ctx context.Context, repo Repository, req IssueRequest) ([]models.GiftCode, error) {
	if req.Count <= 0 {
		return nil, nil
	}
	if req.SourceEventID == "" {
		return nil, fmt.Errorf("gift code source event required")
	}
	var issued []models.GiftCode
	for seq := 1; seq <= req.Count; seq++ {
		code, created, err := i.issueSlot(ctx, repo, req, seq)
		if err != nil {
			return nil, err
		}
		if created {
			issued = append(issued, *code)
		}
	}
	return issued, nil
}

func (i *Issuer) issueSlot(ctx context.Context, repo Repository, req IssueRequest, seq int) (*models.GiftCode, bool, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		value, err := i.gen.Generate()
		if err != nil {
			return nil, false, err
		}
		code := &models.GiftCode{
			OwnerPlayerID: req.OwnerID,
			Code:          value,
			PlanID:        req.PlanID,
			Status:        enums.GiftCodeStatusUnredeemed,
			BundleID:      req.BundleID,
			SourceEventID: req.SourceEventID,
			Sequence:      seq,
		}
		inserted, err := repo.InsertIfAbsent(ctx, code)
		if err != nil {
			return nil, false, fmt.Errorf("insert gift code: %w", err)
		}
		if inserted {
			return code, true, nil
		}
		existing, err := repo.FindBySlot(ctx, req.SourceEventID, seq)
		if err == nil {
			return existing, false, nil
		}
		if !db.IsNotFound(err) {
			return nil, false, fmt.Errorf("load gift code slot: %w", err)
		}
		// code value collided with another slot; draw again
	}
	return nil, false, fmt.Errorf("could not generate a unique gift code after %d attempts", maxCodeAttempts)
}
