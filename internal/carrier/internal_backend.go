package carrier

import (
	"context"
	"fmt"
	"math"

	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type BandLister interface {
	ListBands(ctx context.Context, companyID int64, weight float64) ([]*repository.Tariff, error)
}

// InternalBackend prices deliveries from the carrier's static weight bands.
// No live API, no booking, no status feed.
type InternalBackend struct {
	company *repository.TransportCompany
	bands   BandLister
}

func NewInternalBackend(company *repository.TransportCompany, bands BandLister) *InternalBackend {
	return &InternalBackend{company: company, bands: bands}
}

func (b *InternalBackend) Quote(ctx context.Context, req QuoteRequest) ([]Offer, error) {
	tariffs, err := b.bands.ListBands(ctx, b.company.ID, req.Weight)
	if err != nil {
		return nil, fmt.Errorf("list tariff bands for %s: %w", b.company.Code, err)
	}

	var offers []Offer
	for _, t := range tariffs {
		if req.CourierPickup && !t.CourierPickup {
			continue
		}
		if req.CourierDelivery && !t.CourierDelivery {
			continue
		}

		price := t.BasePrice + req.Weight*t.PricePerKg
		if req.CourierPickup || req.CourierDelivery {
			price += t.CourierSurcharge
		}

		offers = append(offers, Offer{
			CompanyID:   b.company.ID,
			CompanyName: b.company.Name,
			CompanyCode: b.company.Code,
			LogoURL:     b.company.LogoURL,
			Price:       math.Round(price*100) / 100,
			TariffName:  t.Name,
		})
	}
	return offers, nil
}

func (b *InternalBackend) Book(ctx context.Context, req BookRequest) (*BookResult, error) {
	return nil, fmt.Errorf("carrier %s has no booking API", b.company.Code)
}

func (b *InternalBackend) FetchStatus(ctx context.Context, externalUUID string) (*StatusInfo, error) {
	return nil, fmt.Errorf("carrier %s has no status API", b.company.Code)
}
