package events

import (
	"context"
	"encoding/json"

	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

type publisher interface {
	Publish(ctx context.Context, channel string, payload any) (int64, error)
}

// RedisSink publishes events as JSON on a pub/sub channel for the
// notification service. Publish failures are logged and dropped.
type RedisSink struct {
	client  publisher
	channel string
	logg    *logger.Logger
}

func NewRedisSink(client publisher, channel string, logg *logger.Logger) *RedisSink {
	return &RedisSink{client: client, channel: channel, logg: logg}
}

func (s *RedisSink) Emit(ctx context.Context, evt Event) {
	if s == nil || s.client == nil || s.channel == "" {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logError(ctx, "events.redis.encode_failed", err)
		return
	}
	if _, err := s.client.Publish(ctx, s.channel, payload); err != nil {
		s.logError(ctx, "events.redis.publish_failed", err)
	}
}

func (s *RedisSink) logError(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithField(ctx, "channel", s.channel), msg, err)
}
