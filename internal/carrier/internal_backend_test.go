package carrier_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type fakeBands struct {
	tariffs []*repository.Tariff
}

func (f *fakeBands) ListBands(ctx context.Context, companyID int64, weight float64) ([]*repository.Tariff, error) {
	return f.tariffs, nil
}

func TestInternalBackend_Quote(t *testing.T) {
	ctx := context.Background()
	company := &repository.TransportCompany{ID: 1, Name: "Local", Code: "local", APIType: repository.APITypeInternal}

	t.Run("band pricing", func(t *testing.T) {
		bands := &fakeBands{tariffs: []*repository.Tariff{
			{Name: "Standard", BasePrice: 300, PricePerKg: 50},
		}}
		backend := carrier.NewInternalBackend(company, bands)

		offers, err := backend.Quote(ctx, carrier.QuoteRequest{Weight: 1})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		assert.Equal(t, 350.0, offers[0].Price)
	})

	t.Run("courier surcharge and filtering", func(t *testing.T) {
		bands := &fakeBands{tariffs: []*repository.Tariff{
			{Name: "Warehouse only", BasePrice: 200, PricePerKg: 10},
			{Name: "Door", BasePrice: 300, PricePerKg: 10, CourierPickup: true, CourierSurcharge: 150},
		}}
		backend := carrier.NewInternalBackend(company, bands)

		offers, err := backend.Quote(ctx, carrier.QuoteRequest{Weight: 2, CourierPickup: true})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		assert.Equal(t, "Door", offers[0].TariffName)
		assert.Equal(t, 470.0, offers[0].Price)
	})

	t.Run("no booking API", func(t *testing.T) {
		backend := carrier.NewInternalBackend(company, &fakeBands{})
		_, err := backend.Book(ctx, carrier.BookRequest{})
		assert.Error(t, err)
	})
}
