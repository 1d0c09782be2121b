package notify

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify", fx.Provide(NewDispatcher))

// Dispatcher delivers user-facing notifications. Delivery is fire-and-forget:
// callers must never let a dispatch failure affect their own transaction.
type Dispatcher interface {
	DepositApproved(ctx context.Context, userID string, amount float64)
}

type logDispatcher struct{}

// NewDispatcher returns the default dispatcher. Outbound email rendering and
// delivery live outside this engine; this implementation records the event.
func NewDispatcher() Dispatcher {
	return &logDispatcher{}
}

func (d *logDispatcher) DepositApproved(ctx context.Context, userID string, amount float64) {
	zap.L().Info("notify.deposit_approved",
		zap.String("user_id", userID),
		zap.Float64("amount", amount),
	)
}
