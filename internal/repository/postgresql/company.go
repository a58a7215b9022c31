package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type CompanyRepo struct {
	db db.DB
}

func NewCompanyRepo(db db.DB) *CompanyRepo {
	return &CompanyRepo{db: db}
}

const companyColumns = `
        id, name, code, api_type, api_account, api_secure_password,
        logo_url, default_tariff_code, is_active, created_at`

func (r *CompanyRepo) GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error) {
	var c repository.TransportCompany
	err := r.db.Get(ctx, &c, "SELECT"+companyColumns+" FROM transport_companies WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CompanyRepo) ListActive(ctx context.Context) ([]*repository.TransportCompany, error) {
	var companies []*repository.TransportCompany
	err := r.db.Select(ctx, &companies,
		"SELECT"+companyColumns+" FROM transport_companies WHERE is_active = true ORDER BY id ASC")
	return companies, err
}

// ListBands returns the active weight bands of one carrier that contain the
// given weight, cheapest base price first.
func (r *CompanyRepo) ListBands(ctx context.Context, companyID int64, weight float64) ([]*repository.Tariff, error) {
	var tariffs []*repository.Tariff
	err := r.db.Select(ctx, &tariffs, `
        SELECT id, company_id, name, min_weight, max_weight, base_price, price_per_kg,
               courier_pickup, courier_delivery, courier_surcharge, is_active, created_at
        FROM tariffs
        WHERE company_id = $1 AND is_active = true
          AND min_weight <= $2 AND max_weight >= $2
        ORDER BY base_price ASC
    `, companyID, weight)
	return tariffs, err
}
