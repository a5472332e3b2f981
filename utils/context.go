package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds a single store round trip from a handler.
	DefaultTimeout = 10 * time.Second

	// LongTimeout covers indexing a full document.
	LongTimeout = 60 * time.Second

	// ShortTimeout is for health checks.
	ShortTimeout = 2 * time.Second
)

func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

func WithLongTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LongTimeout)
}

func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// Detached keeps the values of parent (trace span, request id) but not its
// cancellation, so cleanup can finish after the client went away.
func Detached(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), d)
}
