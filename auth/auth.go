package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

type callerContextKeyType struct{}

var callerContextKey = callerContextKeyType{}

var ErrNoCaller = errors.New("no caller identity in context")

// Caller identifies the actor on whose behalf an integration request is made.
// It is used for audit attribution only and is never forwarded to the vendor.
type Caller struct {
	ActorID string
}

// WithCaller sets the caller on the request context. A child logger with the
// 'actor' field is attached so every log line of the request carries it.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	ctx = context.WithValue(ctx, callerContextKey, caller)
	return log.Ctx(ctx).With().Str("actor", caller.ActorID).Logger().WithContext(ctx)
}

// CallerFromContext returns the caller from the request context.
func CallerFromContext(ctx context.Context) (Caller, error) {
	caller, ok := ctx.Value(callerContextKey).(Caller)
	if !ok {
		return Caller{}, ErrNoCaller
	}
	return caller, nil
}
