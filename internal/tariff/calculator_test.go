package tariff_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
	"gitlab.com/parcelmkt/fulfillment/internal/tariff"
)

type fakeBackend struct {
	offers []carrier.Offer
	err    error
}

func (f *fakeBackend) Quote(ctx context.Context, req carrier.QuoteRequest) ([]carrier.Offer, error) {
	return f.offers, f.err
}

func (f *fakeBackend) Book(ctx context.Context, req carrier.BookRequest) (*carrier.BookResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) FetchStatus(ctx context.Context, externalUUID string) (*carrier.StatusInfo, error) {
	return nil, errors.New("not implemented")
}

type fakeFactory struct {
	backends map[int64]carrier.Backend
}

func (f *fakeFactory) ForCompany(company *repository.TransportCompany) (carrier.Backend, error) {
	b, ok := f.backends[company.ID]
	if !ok {
		return nil, errors.New("no backend")
	}
	return b, nil
}

type fakeCompanies struct {
	companies []*repository.TransportCompany
}

func (f *fakeCompanies) ListActive(ctx context.Context) ([]*repository.TransportCompany, error) {
	return f.companies, nil
}

func (f *fakeCompanies) GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error) {
	for _, c := range f.companies {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrObjectNotFound
}

type fakeSettings struct {
	settings repository.AppSettings
}

func (f *fakeSettings) Get(ctx context.Context) (*repository.AppSettings, error) {
	s := f.settings
	return &s, nil
}

func newCompany(id int64, code string) *repository.TransportCompany {
	return &repository.TransportCompany{
		ID: id, Name: code, Code: code, APIType: repository.APITypeCDEK, IsActive: true,
	}
}

func TestCalculator_Quote(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("offers ranked by total", func(t *testing.T) {
		companies := &fakeCompanies{companies: []*repository.TransportCompany{
			newCompany(1, "alpha"), newCompany(2, "beta"),
		}}
		factory := &fakeFactory{backends: map[int64]carrier.Backend{
			1: &fakeBackend{offers: []carrier.Offer{{CompanyID: 1, Price: 900}}},
			2: &fakeBackend{offers: []carrier.Offer{{CompanyID: 2, Price: 300}}},
		}}
		calc := tariff.NewCalculator(companies, factory, &fakeSettings{}, logger)

		offers, err := calc.Quote(ctx, tariff.Request{
			Weight: 1, FromCity: "Москва", ToCity: "Казань",
		})
		require.NoError(t, err)
		require.Len(t, offers, 2)
		assert.Equal(t, int64(2), offers[0].CompanyID)
		assert.LessOrEqual(t, offers[0].Total, offers[1].Total)
	})

	t.Run("one carrier failing does not drop the rest", func(t *testing.T) {
		companies := &fakeCompanies{companies: []*repository.TransportCompany{
			newCompany(1, "alpha"), newCompany(2, "beta"),
		}}
		factory := &fakeFactory{backends: map[int64]carrier.Backend{
			1: &fakeBackend{err: errors.New("api down")},
			2: &fakeBackend{offers: []carrier.Offer{{CompanyID: 2, Price: 300}}},
		}}
		calc := tariff.NewCalculator(companies, factory, &fakeSettings{}, logger)

		offers, err := calc.Quote(ctx, tariff.Request{
			Weight: 1, FromCity: "Москва", ToCity: "Казань",
		})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		assert.Equal(t, int64(2), offers[0].CompanyID)
	})

	t.Run("all carriers failing yields empty list", func(t *testing.T) {
		companies := &fakeCompanies{companies: []*repository.TransportCompany{newCompany(1, "alpha")}}
		factory := &fakeFactory{backends: map[int64]carrier.Backend{
			1: &fakeBackend{err: errors.New("api down")},
		}}
		calc := tariff.NewCalculator(companies, factory, &fakeSettings{}, logger)

		offers, err := calc.Quote(ctx, tariff.Request{
			Weight: 1, FromCity: "Москва", ToCity: "Казань",
		})
		require.NoError(t, err)
		assert.Empty(t, offers)
	})

	t.Run("price breakdown", func(t *testing.T) {
		companies := &fakeCompanies{companies: []*repository.TransportCompany{newCompany(1, "alpha")}}
		factory := &fakeFactory{backends: map[int64]carrier.Backend{
			1: &fakeBackend{offers: []carrier.Offer{{CompanyID: 1, Price: 350}}},
		}}
		settings := &fakeSettings{settings: repository.AppSettings{
			PackagingPrice:    50,
			CommissionPercent: 10,
			AcquiringPercent:  3,
		}}
		calc := tariff.NewCalculator(companies, factory, settings, zap.NewNop())

		offers, err := calc.Quote(ctx, tariff.Request{
			Weight: 1, FromCity: "Москва", ToCity: "Казань",
		})
		require.NoError(t, err)
		require.Len(t, offers, 1)

		// 350 + 50 packaging = 400; 10% commission = 40; 3% of 440 = 13.20.
		assert.Equal(t, 50.0, offers[0].PackagingPrice)
		assert.Equal(t, 40.0, offers[0].Commission)
		assert.Equal(t, 13.2, offers[0].AcquiringFee)
		assert.Equal(t, 453.2, offers[0].Total)
	})

	t.Run("declared value falls back to flat insurance", func(t *testing.T) {
		companies := &fakeCompanies{companies: []*repository.TransportCompany{newCompany(1, "alpha")}}
		factory := &fakeFactory{backends: map[int64]carrier.Backend{
			1: &fakeBackend{offers: []carrier.Offer{{CompanyID: 1, Price: 100}}},
		}}
		settings := &fakeSettings{settings: repository.AppSettings{InsurancePrice: 30}}
		calc := tariff.NewCalculator(companies, factory, settings, zap.NewNop())

		offers, err := calc.Quote(ctx, tariff.Request{
			Weight: 1, FromCity: "Москва", ToCity: "Казань", DeclaredValue: 5000,
		})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		assert.Equal(t, 30.0, offers[0].InsuranceCost)
		assert.Equal(t, 130.0, offers[0].Total)
	})

	t.Run("pinned inactive carrier yields no offers", func(t *testing.T) {
		inactive := newCompany(1, "alpha")
		inactive.IsActive = false
		companies := &fakeCompanies{companies: []*repository.TransportCompany{inactive}}
		calc := tariff.NewCalculator(companies, &fakeFactory{}, &fakeSettings{}, logger)

		companyID := int64(1)
		offers, err := calc.Quote(ctx, tariff.Request{Weight: 1, CompanyID: &companyID})
		require.NoError(t, err)
		assert.Empty(t, offers)
	})

	t.Run("api carrier skipped without route", func(t *testing.T) {
		companies := &fakeCompanies{companies: []*repository.TransportCompany{newCompany(1, "alpha")}}
		factory := &fakeFactory{backends: map[int64]carrier.Backend{
			1: &fakeBackend{offers: []carrier.Offer{{CompanyID: 1, Price: 100}}},
		}}
		calc := tariff.NewCalculator(companies, factory, &fakeSettings{}, logger)

		offers, err := calc.Quote(ctx, tariff.Request{Weight: 1})
		require.NoError(t, err)
		assert.Empty(t, offers)
	})
}
