package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type SettingsRepo struct {
	db db.DB
}

func NewSettingsRepo(db db.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) Get(ctx context.Context) (*repository.AppSettings, error) {
	var s repository.AppSettings
	err := r.db.Get(ctx, &s, `
        SELECT id, key, packaging_price, commission_percent, acquiring_percent, insurance_price,
               third_party_name, third_party_phone, third_party_address, third_party_tin, updated_at
        FROM app_settings WHERE key = $1
    `, repository.AppSettingsKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts the singleton row with defaults. The unique constraint on key
// makes concurrent lazy initialization collapse to a single row.
func (r *SettingsRepo) Create(ctx context.Context) (*repository.AppSettings, error) {
	_, err := r.db.Exec(ctx, `
        INSERT INTO app_settings (key, packaging_price, commission_percent, acquiring_percent, insurance_price, updated_at)
        VALUES ($1, 0, 0, 0, 0, now())
        ON CONFLICT (key) DO NOTHING
    `, repository.AppSettingsKey)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx)
}
