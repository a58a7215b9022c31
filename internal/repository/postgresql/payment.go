package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type PaymentRepo struct {
	db db.DB
}

func NewPaymentRepo(db db.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const paymentColumns = `
        id, order_id, amount, status, external_id, confirmation_url, idempotence_key,
        created_at, updated_at`

func (r *PaymentRepo) Create(ctx context.Context, p *repository.Payment) error {
	now := time.Now().UTC()
	err := r.db.ExecQueryRow(ctx, `
        INSERT INTO payments (order_id, amount, status, external_id, confirmation_url, idempotence_key, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `, p.OrderID, p.Amount, p.Status, p.ExternalID, p.ConfirmationURL, p.IdempotenceKey, now, now).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (r *PaymentRepo) GetByExternalID(ctx context.Context, externalID string) (*repository.Payment, error) {
	var p repository.Payment
	err := r.db.Get(ctx, &p, "SELECT"+paymentColumns+" FROM payments WHERE external_id = $1", externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetByExternalIDTx locks the payment attempt row for the webhook transaction.
func (r *PaymentRepo) GetByExternalIDTx(ctx context.Context, tx db.Tx, externalID string) (*repository.Payment, error) {
	var p repository.Payment
	err := tx.Get(ctx, &p, "SELECT"+paymentColumns+" FROM payments WHERE external_id = $1 FOR UPDATE", externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetPendingByOrderTx is the fallback lookup for providers that omit the
// payment id on some webhook events.
func (r *PaymentRepo) GetPendingByOrderTx(ctx context.Context, tx db.Tx, orderID int64) (*repository.Payment, error) {
	var p repository.Payment
	err := tx.Get(ctx, &p, "SELECT"+paymentColumns+`
        FROM payments WHERE order_id = $1 AND status = $2
        ORDER BY created_at DESC LIMIT 1 FOR UPDATE
    `, orderID, repository.PaymentStatusPending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) GetPendingByOrder(ctx context.Context, orderID int64) (*repository.Payment, error) {
	var p repository.Payment
	err := r.db.Get(ctx, &p, "SELECT"+paymentColumns+`
        FROM payments WHERE order_id = $1 AND status = $2
        ORDER BY created_at DESC LIMIT 1
    `, orderID, repository.PaymentStatusPending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) GetSuccessByOrder(ctx context.Context, orderID int64) (*repository.Payment, error) {
	var p repository.Payment
	err := r.db.Get(ctx, &p, "SELECT"+paymentColumns+`
        FROM payments WHERE order_id = $1 AND status = $2 LIMIT 1
    `, orderID, repository.PaymentStatusSuccess)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) UpdateStatusTx(ctx context.Context, tx db.Tx, id int64, status repository.PaymentStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE payments SET status = $1, updated_at = now() WHERE id = $2
    `, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
