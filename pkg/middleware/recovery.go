package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/bcommerce/messagebus/pkg/messaging"
)

// Recovery converts a handler panic into an error, logging the stack trace.
// The dispatch layer already survives panics; this wrapper exists to keep a
// usable stack in the logs instead of a bare panic value.
func Recovery(logger *slog.Logger) func(messaging.Handler) messaging.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "message handler panicked",
						slog.String("type", env.MessageType),
						slog.String("message_id", env.MessageID),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
					err = fmt.Errorf("handler panicked: %v", r)
				}
			}()

			return next(ctx, env)
		}
	}
}
