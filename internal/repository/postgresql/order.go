package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `
        id, user_id, status,
        sender_name, sender_phone, sender_address, sender_city,
        sender_company, sender_tin, sender_contragent_type,
        recipient_name, recipient_phone, recipient_address, recipient_city,
        recipient_point_code, recipient_point_address,
        weight, length, width, height, package_photo,
        company_id, company_name, tariff_code, tariff_name,
        base_price, packaging_price, insurance_price, commission, acquiring_fee, price,
        external_order_uuid, external_order_number,
        created_at, updated_at`

func (r *OrderRepo) Create(ctx context.Context, order *repository.Order) error {
	query := `
        INSERT INTO orders (
            user_id, status,
            sender_name, sender_phone, sender_address, sender_city,
            sender_company, sender_tin, sender_contragent_type,
            recipient_name, recipient_phone, recipient_address, recipient_city,
            recipient_point_code, recipient_point_address,
            weight, length, width, height, package_photo,
            company_id, company_name, tariff_code, tariff_name,
            base_price, packaging_price, insurance_price, commission, acquiring_fee, price,
            created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
            $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
            $31, $32
        ) RETURNING id
    `
	err := r.db.ExecQueryRow(ctx, query,
		order.UserID, order.Status,
		order.SenderName, order.SenderPhone, order.SenderAddress, order.SenderCity,
		order.SenderCompany, order.SenderTIN, order.SenderContragentType,
		order.RecipientName, order.RecipientPhone, order.RecipientAddress, order.RecipientCity,
		order.RecipientPointCode, order.RecipientPointAddress,
		order.Weight, order.Length, order.Width, order.Height, order.PackagePhoto,
		order.CompanyID, order.CompanyName, order.TariffCode, order.TariffName,
		order.BasePrice, order.PackagingPrice, order.InsurancePrice, order.Commission, order.AcquiringFee, order.Price,
		order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*repository.Order, error) {
	var order repository.Order
	err := r.db.Get(ctx, &order, "SELECT"+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, "SELECT"+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) UpdateStatus(ctx context.Context, id int64, status repository.OrderStatus) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE orders SET status = $1, updated_at = now() WHERE id = $2
    `, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx db.Tx, id int64, status repository.OrderStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE orders SET status = $1, updated_at = now() WHERE id = $2
    `, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

// SetExternalIDs records the booked shipment. Guarded so an already-booked
// order is never overwritten.
func (r *OrderRepo) SetExternalIDs(ctx context.Context, id int64, externalUUID, externalNumber *string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE orders
        SET external_order_uuid = COALESCE(external_order_uuid, $1),
            external_order_number = COALESCE(external_order_number, $2),
            updated_at = now()
        WHERE id = $3
    `, externalUUID, externalNumber, id)
	return err
}

func (r *OrderRepo) SetTariff(ctx context.Context, id int64, tariffCode int, tariffName string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE orders SET tariff_code = $1, tariff_name = $2, updated_at = now() WHERE id = $3
    `, tariffCode, tariffName, id)
	return err
}

// ListSyncable returns booked orders whose status is still being tracked.
func (r *OrderRepo) ListSyncable(ctx context.Context) ([]*repository.Order, error) {
	query := "SELECT" + orderColumns + `
        FROM orders
        WHERE external_order_uuid IS NOT NULL
          AND status IN ('new', 'paid', 'in_delivery')
        ORDER BY created_at ASC
    `
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) GetByUserID(ctx context.Context, userID int64, limit int) ([]*repository.Order, error) {
	query := "SELECT" + orderColumns + " FROM orders WHERE user_id = $1 ORDER BY created_at DESC"
	args := []interface{}{userID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, query, args...)
	return orders, err
}
