package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/puttlab-backend/internal/webhookevents"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

const (
	ReplayJobName = "webhook-replay"

	defaultReplayDelay      = 5 * time.Minute
	defaultReplayMaxRetries = 10
)

type eventProcessor interface {
	ProcessEvent(ctx context.Context, recordID uuid.UUID) error
}

// ReplayJobParams configures the webhook replay job.
type ReplayJobParams struct {
	Logger     *logger.Logger
	Events     webhookevents.Repository
	Processor  eventProcessor
	Delay      time.Duration
	MaxRetries int
	ItemDelay  time.Duration
	Limit      int
	Now        func() time.Time
}

// ReplayJob re-runs recorded events that never finished processing, such as
// deliveries that arrived before their player existed.
type ReplayJob struct {
	logg       *logger.Logger
	events     webhookevents.Repository
	processor  eventProcessor
	delay      time.Duration
	maxRetries int
	itemDelay  time.Duration
	limit      int
	now        func() time.Time
}

func NewReplayJob(params ReplayJobParams) (*ReplayJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("webhook event repository required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("event processor required")
	}
	delay := params.Delay
	if delay <= 0 {
		delay = defaultReplayDelay
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultReplayMaxRetries
	}
	return &ReplayJob{
		logg:       params.Logger,
		events:     params.Events,
		processor:  params.Processor,
		delay:      delay,
		maxRetries: maxRetries,
		itemDelay:  params.ItemDelay,
		limit:      params.Limit,
		now:        nowOrDefault(params.Now),
	}, nil
}

func (j *ReplayJob) Name() string { return ReplayJobName }

func (j *ReplayJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

func (j *ReplayJob) Sweep(ctx context.Context) (Tally, error) {
	var tally Tally
	pending, err := j.events.ListUnprocessed(ctx, webhookevents.ReplayQuery{
		OlderThan:  j.now().UTC().Add(-j.delay),
		MaxRetries: j.maxRetries,
		Limit:      j.limit,
	})
	if err != nil {
		return tally, fmt.Errorf("list unprocessed webhook events: %w", err)
	}
	tally.Candidates = len(pending)

	var errs error
	for i := range pending {
		if i > 0 {
			if err := pause(ctx, j.itemDelay); err != nil {
				return tally, multierr.Append(errs, err)
			}
		}
		evt := &pending[i]
		logCtx := j.logg.WithProviderEventID(ctx, evt.ProviderEventID)
		logCtx = j.logg.WithField(logCtx, "retry_count", evt.RetryCount)
		if err := j.processor.ProcessEvent(logCtx, evt.ID); err != nil {
			tally.Failed++
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", evt.ProviderEventID, err))
			continue
		}
		j.logg.Info(logCtx, "webhook.replay.processed")
		tally.Succeeded++
	}
	return tally, errs
}
