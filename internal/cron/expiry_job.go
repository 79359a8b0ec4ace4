package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/pkg/enums"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const (
	ExpirySweepJobName       = "subscription-expiry-sweep"
	CancellationSweepJobName = "subscription-cancellation-sweep"

	defaultPastDueGrace = 7 * 24 * time.Hour
)

// LapseSweepParams configures the expiry and cancellation sweeps.
type LapseSweepParams struct {
	Logger    *logger.Logger
	Players   players.Repository
	Sink      events.Sink
	ItemDelay time.Duration
	Limit     int
	Now       func() time.Time

	// PastDueGrace applies to the expiry sweep only.
	PastDueGrace time.Duration
}

func (p LapseSweepParams) downgrader(job string) (*downgrader, error) {
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Players == nil {
		return nil, fmt.Errorf("player repository required")
	}
	return &downgrader{
		job:       job,
		players:   p.Players,
		sink:      sinkOrDiscard(p.Sink),
		logg:      p.Logger,
		itemDelay: p.ItemDelay,
		now:       nowOrDefault(p.Now),
	}, nil
}

// ExpirySweepJob catches subscriptions whose period ended without the
// provider's expiry event, and past-due accounts that stayed unpaid past the
// grace window.
type ExpirySweepJob struct {
	*downgrader
	grace time.Duration
	limit int
}

func NewExpirySweepJob(params LapseSweepParams) (*ExpirySweepJob, error) {
	d, err := params.downgrader(ExpirySweepJobName)
	if err != nil {
		return nil, err
	}
	grace := params.PastDueGrace
	if grace <= 0 {
		grace = defaultPastDueGrace
	}
	return &ExpirySweepJob{downgrader: d, grace: grace, limit: params.Limit}, nil
}

func (j *ExpirySweepJob) Name() string { return ExpirySweepJobName }

func (j *ExpirySweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

func (j *ExpirySweepJob) Sweep(ctx context.Context) (Tally, error) {
	now := j.now().UTC()
	notCanceling := false
	active := enums.SubscriptionStatusActive
	pastDue := enums.SubscriptionStatusPastDue
	lapsedCutoff := now.Add(-j.grace)

	passes := []lapsePass{
		{
			query:  players.LapsedQuery{Status: active, CancelAtPeriodEnd: &notCanceling, EndedBefore: now, Limit: j.limit},
			guard:  players.Guard{Status: &active, CancelAtPeriodEnd: &notCanceling, PeriodEndBefore: &now},
			reason: enums.TransitionReasonMissedExpiry,
		},
		{
			query:  players.LapsedQuery{Status: pastDue, EndedBefore: lapsedCutoff, Limit: j.limit},
			guard:  players.Guard{Status: &pastDue, PeriodEndBefore: &lapsedCutoff},
			reason: enums.TransitionReasonPastDueLapsed,
		},
	}

	var total Tally
	var errs error
	for _, pass := range passes {
		tally, err := j.run(ctx, pass)
		total.add(tally)
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return total, errs
}

// CancellationSweepJob ends subscriptions the player canceled once the paid
// period is over.
type CancellationSweepJob struct {
	*downgrader
	limit int
}

func NewCancellationSweepJob(params LapseSweepParams) (*CancellationSweepJob, error) {
	d, err := params.downgrader(CancellationSweepJobName)
	if err != nil {
		return nil, err
	}
	return &CancellationSweepJob{downgrader: d, limit: params.Limit}, nil
}

func (j *CancellationSweepJob) Name() string { return CancellationSweepJobName }

func (j *CancellationSweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

func (j *CancellationSweepJob) Sweep(ctx context.Context) (Tally, error) {
	now := j.now().UTC()
	canceling := true
	active := enums.SubscriptionStatusActive
	return j.run(ctx, lapsePass{
		query:  players.LapsedQuery{Status: active, CancelAtPeriodEnd: &canceling, EndedBefore: now, Limit: j.limit},
		guard:  players.Guard{Status: &active, CancelAtPeriodEnd: &canceling, PeriodEndBefore: &now},
		reason: enums.TransitionReasonCanceledLapsed,
	})
}
