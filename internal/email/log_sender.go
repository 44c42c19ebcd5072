package email

import (
	"context"
	"log/slog"
)

// LogSender writes every digest to the logger in full, addresses included.
// Use it for local runs and demos only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{
		logger: logger.With("sender", "log"),
	}
}

func (s *LogSender) Send(_ context.Context, from, recipient Address, msg Message) error {
	s.logger.Info("digest email",
		slog.Group("envelope",
			"from", from,
			"to", recipient,
		),
		"subject", msg.Subject,
		"text", msg.TextBody,
		"htmlBytes", len(msg.HTMLBody),
	)
	return nil
}
