package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type OrderEventRepo struct {
	db db.DB
}

func NewOrderEventRepo(db db.DB) *OrderEventRepo {
	return &OrderEventRepo{db: db}
}

const insertEventQuery = `
        INSERT INTO order_events (order_id, event_type, description, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `

func (r *OrderEventRepo) Create(ctx context.Context, event *repository.OrderEvent) error {
	_, err := r.db.Exec(ctx, insertEventQuery,
		event.OrderID, event.EventType, event.Description, normalizeMetadata(event.Metadata), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func (r *OrderEventRepo) CreateTx(ctx context.Context, tx db.Tx, event *repository.OrderEvent) error {
	_, err := tx.Exec(ctx, insertEventQuery,
		event.OrderID, event.EventType, event.Description, normalizeMetadata(event.Metadata), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func (r *OrderEventRepo) ListByOrder(ctx context.Context, orderID int64) ([]*repository.OrderEvent, error) {
	var events []*repository.OrderEvent
	err := r.db.Select(ctx, &events, `
        SELECT id, order_id, event_type, description, metadata, created_at
        FROM order_events
        WHERE order_id = $1
        ORDER BY created_at ASC, id ASC
    `, orderID)
	return events, err
}

func normalizeMetadata(m json.RawMessage) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage("{}")
	}
	return m
}
