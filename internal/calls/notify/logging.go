package notify

import (
	"context"
	"errors"

	calls "callwatch/internal/calls/domain"

	"github.com/rs/zerolog"
)

// LoggingPublisher logs notifications instead of sending them.
type LoggingPublisher struct {
	logger   zerolog.Logger
	resolver TopicResolver
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger zerolog.Logger, resolver TopicResolver) *LoggingPublisher {
	return &LoggingPublisher{logger: logger, resolver: resolver}
}

// Publish logs the notification.
func (p *LoggingPublisher) Publish(ctx context.Context, n calls.Notification) error {
	_ = ctx
	if p == nil {
		return errors.New("logging publisher: nil publisher")
	}
	p.logger.Info().
		Str("topic", p.resolver.Topic(n.TopicKey)).
		Str("msg_id", n.ID).
		Str("patient", n.PatientName).
		Str("room", n.Room).
		Msg("call notification")
	return nil
}
