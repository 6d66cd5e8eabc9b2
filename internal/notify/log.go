package notify

import (
	"context"
	"log/slog"

	"github.com/josh-kwaku/fooddelivery-saga/internal/service/notification"
)

// LogSink writes notifications to the logger. Used when no Redis is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, userID int64, n notification.Notification) error {
	s.logger.Info("notification",
		"user_id", userID,
		"role", n.Role,
		"event_type", n.EventType,
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}
