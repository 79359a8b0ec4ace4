package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/internal/subscriptions"
	"github.com/angelmondragon/puttlab-backend/internal/webhookevents"
	pkgerrors "github.com/angelmondragon/puttlab-backend/pkg/errors"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/metrics"
)

type eventProcessor interface {
	ProcessEvent(ctx context.Context, recordID uuid.UUID) error
}

type IngestorParams struct {
	Verifier   *Verifier
	Events     webhookevents.Repository
	Processor  eventProcessor
	Dispatcher *Dispatcher
	Metrics    *metrics.SubscriptionMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Ingestor accepts provider deliveries: it verifies, durably records and
// hands new events to the background dispatcher.
type Ingestor struct {
	verifier   *Verifier
	events     webhookevents.Repository
	processor  eventProcessor
	dispatcher *Dispatcher
	metrics    *metrics.SubscriptionMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewIngestor(params IngestorParams) (*Ingestor, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repo required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event processor required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Ingestor{
		verifier:   params.Verifier,
		events:     params.Events,
		processor:  params.Processor,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        now,
	}, nil
}

// IngestResult describes a delivery that was durably recorded. Done is nil
// for duplicates; otherwise it yields the background processing result.
type IngestResult struct {
	RecordID        uuid.UUID
	ProviderEventID string
	EventType       string
	Duplicate       bool
	Done            <-chan error
}

// Ingest returns once the event row exists. Processing outcome never turns
// into an ingestion error.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (*IngestResult, error) {
	if err := i.verifier.Check(ctx, body, signature); err != nil {
		i.metrics.IncWebhook("rejected")
		return nil, err
	}

	evt, err := subscriptions.ParseEvent(body)
	if err != nil {
		i.metrics.IncWebhook("rejected")
		return nil, err
	}
	ctx = i.logg.WithProviderEventID(ctx, evt.ID)
	ctx = i.logg.WithField(ctx, "event_type", evt.Type)

	occurred := evt.CreatedAt
	if occurred == nil {
		received := i.now().UTC()
		occurred = &received
	}
	res, err := i.events.RecordIfNew(ctx, evt.ID, evt.Type, body, occurred)
	if err != nil {
		i.logg.Error(ctx, "webhook.record_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}

	result := &IngestResult{
		RecordID:        res.RecordID,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
	}
	if !res.IsNew {
		i.metrics.IncWebhook("duplicate")
		i.logg.Info(ctx, "webhook.duplicate")
		result.Duplicate = true
		return result, nil
	}

	i.metrics.IncWebhook("received")
	i.logg.Info(ctx, "webhook.recorded")
	result.Done = i.dispatcher.Submit(ctx, func(taskCtx context.Context) error {
		return i.processor.ProcessEvent(taskCtx, res.RecordID)
	})
	return result, nil
}
