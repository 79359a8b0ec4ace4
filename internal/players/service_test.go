package players

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/pkg/db/dbtest"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

type captureSink struct {
	events []events.Event
}

func (c *captureSink) Emit(_ context.Context, evt events.Event) {
	c.events = append(c.events, evt)
}

func newService(t *testing.T, repo Repository, sink events.Sink, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Logger: logger.New(logger.Options{ServiceName: "players-test", Output: io.Discard}),
		Sink:   sink,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func TestApplyAdminOverrideStampsSource(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	player := seedPlayer(t, repo, func(p *models.Player) {
		p.SubscriptionStatus = enums.SubscriptionStatusPastDue
		p.SubscriptionTier = ptr(enums.SubscriptionTierBasic)
		p.BillingCycle = enums.BillingCycleMonthly
		p.PeriodEnd = ptr(now.Add(-24 * time.Hour))
	})
	sink := &captureSink{}
	svc := newService(t, repo, sink, now)

	periodEnd := now.AddDate(0, 1, 0)
	updated, err := svc.ApplyAdminOverride(context.Background(), player.ID, AdminOverride{
		Status:    enums.SubscriptionStatusActive,
		Tier:      ptr(enums.SubscriptionTierFull),
		PeriodEnd: &periodEnd,
		Note:      "support comp",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, updated.SubscriptionStatus)
	assert.Equal(t, enums.StatusSourceAdmin, updated.StatusSource)
	require.NotNil(t, updated.StatusChangedAt)
	assert.True(t, updated.StatusChangedAt.Equal(now))
	require.NotNil(t, updated.SubscriptionTier)
	assert.Equal(t, enums.SubscriptionTierFull, *updated.SubscriptionTier)
	assert.True(t, updated.IsSubscribed)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "past_due", sink.events[0].OldStatus)
	assert.Equal(t, "active", sink.events[0].NewStatus)
	assert.Equal(t, enums.TransitionReasonAdminOverride.String(), sink.events[0].Reason)
}

func TestApplyAdminOverrideCancelClearsTier(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	now := time.Now().UTC()
	player := seedPlayer(t, repo, func(p *models.Player) {
		p.SubscriptionStatus = enums.SubscriptionStatusActive
		p.SubscriptionTier = ptr(enums.SubscriptionTierPremium)
		p.IsSubscribed = true
	})
	svc := newService(t, repo, nil, now)

	updated, err := svc.ApplyAdminOverride(context.Background(), player.ID, AdminOverride{Status: enums.SubscriptionStatusCanceled})
	require.NoError(t, err)
	assert.Nil(t, updated.SubscriptionTier)
	assert.False(t, updated.IsSubscribed)
}

func TestApplyAdminOverrideValidation(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	svc := newService(t, repo, nil, time.Now())
	player := seedPlayer(t, repo, nil)

	_, err := svc.ApplyAdminOverride(context.Background(), player.ID, AdminOverride{Status: "bogus"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.ApplyAdminOverride(context.Background(), player.ID, AdminOverride{Status: enums.SubscriptionStatusActive})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.ApplyAdminOverride(context.Background(), uuid.New(), AdminOverride{Status: enums.SubscriptionStatusCanceled})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
