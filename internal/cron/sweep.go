package cron

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/internal/subscriptions"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

// Tally counts what a sweep did with its candidates.
type Tally struct {
	Candidates int `json:"candidates"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

func (t Tally) Fields() map[string]any {
	return map[string]any{
		"candidates": t.Candidates,
		"succeeded":  t.Succeeded,
		"failed":     t.Failed,
		"skipped":    t.Skipped,
	}
}

func (t *Tally) add(other Tally) {
	t.Candidates += other.Candidates
	t.Succeeded += other.Succeeded
	t.Failed += other.Failed
	t.Skipped += other.Skipped
}

// pause waits between items. It returns early with ctx's error.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lapsePass downgrades players matching one lapse query.
type lapsePass struct {
	query  players.LapsedQuery
	guard  players.Guard
	reason enums.TransitionReason
}

// downgrader is shared by the expiry and cancellation sweeps.
type downgrader struct {
	job       string
	players   players.Repository
	sink      events.Sink
	logg      *logger.Logger
	itemDelay time.Duration
	now       func() time.Time
}

func (d *downgrader) run(ctx context.Context, pass lapsePass) (Tally, error) {
	var tally Tally
	candidates, err := d.players.ListLapsed(ctx, pass.query)
	if err != nil {
		return tally, err
	}
	tally.Candidates = len(candidates)

	var errs error
	for i := range candidates {
		if i > 0 {
			if err := pause(ctx, d.itemDelay); err != nil {
				return tally, multierr.Append(errs, err)
			}
		}
		changed, err := d.downgrade(ctx, &candidates[i], pass)
		switch {
		case err != nil:
			tally.Failed++
			errs = multierr.Append(errs, err)
		case changed:
			tally.Succeeded++
		default:
			tally.Skipped++
		}
	}
	return tally, errs
}

func (d *downgrader) downgrade(ctx context.Context, player *models.Player, pass lapsePass) (bool, error) {
	now := d.now().UTC()
	logCtx := d.logg.WithPlayerID(ctx, player.ID.String())
	logCtx = d.logg.WithField(logCtx, "reason", pass.reason.String())

	changed, err := d.players.UpdateSubscription(ctx, player.ID, pass.guard, subscriptions.ExpiryFields(now))
	if err != nil {
		d.logg.Error(logCtx, "cron.downgrade.failed", err)
		return false, err
	}
	if !changed {
		d.logg.Info(logCtx, "cron.downgrade.skipped")
		return false, nil
	}
	d.logg.Info(logCtx, "cron.downgrade.applied")
	d.sink.Emit(ctx, events.Event{
		Name:      events.NameTransition,
		Operation: d.job,
		PlayerID:  player.ID,
		OldStatus: player.SubscriptionStatus.String(),
		NewStatus: enums.SubscriptionStatusCanceled.String(),
		Reason:    pass.reason.String(),
	})
	return true, nil
}

func sinkOrDiscard(sink events.Sink) events.Sink {
	if sink == nil {
		return events.Discard{}
	}
	return sink
}

func nowOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
