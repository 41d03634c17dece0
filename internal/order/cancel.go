package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskCancelUnpaid is the task kind carrying a delayed unpaid-order cancellation.
const TaskCancelUnpaid = "order:cancel_unpaid"

type cancelPayload struct {
	OrderID uuid.UUID `json:"orderId"`
}

func cancelTaskID(orderID uuid.UUID) string {
	return "cancel:" + orderID.String()
}

// CancelScheduler schedules and revokes delayed cancellation tasks. The task
// id is derived from the order id so re-scheduling the same order is a no-op
// and payment can revoke the pending task by id.
type CancelScheduler struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	Queue     string
	MaxRetry  int
}

func (s *CancelScheduler) queue() string {
	if s == nil || s.Queue == "" {
		return "default"
	}
	return s.Queue
}

// Schedule enqueues a cancellation to fire after delay.
func (s *CancelScheduler) Schedule(ctx context.Context, orderID uuid.UUID, delay time.Duration) error {
	if s == nil || s.Client == nil {
		return errors.New("order: cancel scheduler not configured")
	}
	payload, err := json.Marshal(cancelPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	maxRetry := s.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	task := asynq.NewTask(TaskCancelUnpaid, payload)
	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.TaskID(cancelTaskID(orderID)),
		asynq.Queue(s.queue()),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Revoke deletes the scheduled cancellation after the order is paid or
// cancelled by the user. A task that already ran or never existed is fine.
func (s *CancelScheduler) Revoke(ctx context.Context, orderID uuid.UUID) error {
	if s == nil || s.Inspector == nil {
		return nil
	}
	err := s.Inspector.DeleteTask(s.queue(), cancelTaskID(orderID))
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

// NewCancelHandler returns the worker-side handler for TaskCancelUnpaid.
func NewCancelHandler(svc *Service, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload cancelPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode cancel payload: %v: %w", err, asynq.SkipRetry)
		}
		canceled, err := svc.CancelIfUnpaid(ctx, payload.OrderID, TriggerTimeout)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("order %s gone: %w", payload.OrderID, asynq.SkipRetry)
			}
			return err
		}
		if canceled {
			log.Info().Str("order_id", payload.OrderID.String()).Msg("unpaid order canceled")
		}
		return nil
	}
}

// RescanOverdue cancels pending orders whose payment deadline passed while no
// worker was running. Called once at worker startup.
func RescanOverdue(ctx context.Context, svc *Service, ttl time.Duration, log zerolog.Logger) error {
	cutoff := time.Now().Add(-ttl)
	ids, err := svc.Orders.ListOverdueUnpaid(ctx, cutoff, 0)
	if err != nil {
		return err
	}
	for _, id := range ids {
		canceled, err := svc.CancelIfUnpaid(ctx, id, TriggerRescan)
		if err != nil {
			log.Error().Err(err).Str("order_id", id.String()).Msg("rescan cancellation failed")
			continue
		}
		if canceled {
			log.Info().Str("order_id", id.String()).Msg("overdue order canceled during rescan")
		}
	}
	return nil
}
