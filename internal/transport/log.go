package transport

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the log instead of delivering them.
// Used in development and when no mail provider is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs msg and always succeeds.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return temporary(err)
	}

	s.logger.Info("Notification delivered to log",
		slog.String("job_id", msg.ID),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("correlation_id", msg.CorrelationID),
		slog.Int("body_size", len(msg.Body)),
	)
	return nil
}
