package sheets

import (
	"context"
	"time"
)

// Settler waits after a mutation so the backend can finish recalculating.
type Settler interface {
	Settle(ctx context.Context) error
}

// FixedDelay sleeps for a constant duration.
type FixedDelay time.Duration

func (d FixedDelay) Settle(ctx context.Context) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SettleFunc adapts a function to Settler.
type SettleFunc func(ctx context.Context) error

func (f SettleFunc) Settle(ctx context.Context) error { return f(ctx) }

// NoSettle never waits.
var NoSettle Settler = FixedDelay(0)
