package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/metrics"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type TaskWriter interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.NotificationTask) error
}

// Enqueuer writes notification outbox rows inside the caller's transaction,
// so the message cannot outlive a rolled-back state change.
type Enqueuer struct {
	tasks TaskWriter
	topic string
}

func NewEnqueuer(tasks TaskWriter, topic string) *Enqueuer {
	return &Enqueuer{tasks: tasks, topic: topic}
}

func (e *Enqueuer) EnqueueTx(ctx context.Context, tx db.Tx, phone, text string, orderID int64) error {
	payload, err := json.Marshal(repository.NotificationPayload{
		Phone:   phone,
		Text:    text,
		OrderID: orderID,
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	task := &repository.NotificationTask{
		Topic:   e.topic,
		Payload: payload,
	}
	if err := e.tasks.CreateTx(ctx, tx, task); err != nil {
		return err
	}
	metrics.NotificationsEnqueuedTotal.Inc()
	return nil
}
