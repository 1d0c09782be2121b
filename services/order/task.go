package order

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeDispatch = "order:dispatch"

var TaskModule = fx.Module("order.task",
	fx.Invoke(RegisterHandlers),
)

type DispatchPayload struct {
	OrderID string `json:"order_id"`
}

func NewDispatchTask(orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DispatchPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDispatch, payload,
		asynq.Queue("critical"),
		asynq.MaxRetry(5),
	), nil
}

func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(TypeDispatch, s.HandleDispatch)
}

func (s *Service) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if err := s.dispatch(ctx, payload.OrderID); err != nil {
		zap.L().Error("order dispatch failed",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return err
	}
	return nil
}
