package events

import (
	"context"

	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

type LogSink struct {
	logg *logger.Logger
}

func NewLogSink(logg *logger.Logger) *LogSink {
	return &LogSink{logg: logg}
}

func (s *LogSink) Emit(ctx context.Context, evt Event) {
	if s == nil || s.logg == nil {
		return
	}
	fields := map[string]any{
		"event":     evt.Name,
		"operation": evt.Operation,
		"player_id": evt.PlayerID.String(),
	}
	if evt.OldStatus != "" {
		fields["old_status"] = evt.OldStatus
	}
	if evt.NewStatus != "" {
		fields["new_status"] = evt.NewStatus
	}
	if evt.Reason != "" {
		fields["reason"] = evt.Reason
	}
	if evt.Duration > 0 {
		fields["duration_ms"] = evt.Duration.Milliseconds()
	}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), evt.Name)
}
