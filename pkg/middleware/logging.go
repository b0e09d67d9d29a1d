// Package middleware provides cross-cutting wrappers for message handlers.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcommerce/messagebus/pkg/messaging"
)

// Logging logs every handler invocation with timing information.
func Logging(logger *slog.Logger) func(messaging.Handler) messaging.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) error {
			start := time.Now()

			logger.InfoContext(ctx, "handling message",
				slog.String("type", env.MessageType),
				slog.String("message_id", env.MessageID),
				slog.String("kind", string(env.Kind)),
				slog.Int("attempt", env.DeliveryAttempt),
			)

			err := next(ctx, env)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "message handling failed",
					slog.String("type", env.MessageType),
					slog.String("message_id", env.MessageID),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return err
			}

			logger.InfoContext(ctx, "message handled",
				slog.String("type", env.MessageType),
				slog.String("message_id", env.MessageID),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)
			return nil
		}
	}
}
