package tariff

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/metrics"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type CompanyLister interface {
	ListActive(ctx context.Context) ([]*repository.TransportCompany, error)
	GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error)
}

type BackendFactory interface {
	ForCompany(company *repository.TransportCompany) (carrier.Backend, error)
}

type Settings interface {
	Get(ctx context.Context) (*repository.AppSettings, error)
}

type Request struct {
	Weight          float64  `json:"weight"`
	Length          *float64 `json:"length,omitempty"`
	Width           *float64 `json:"width,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	CompanyID       *int64   `json:"company_id,omitempty"`
	FromCity        string   `json:"from_city,omitempty"`
	ToCity          string   `json:"to_city,omitempty"`
	CourierPickup   bool     `json:"courier_pickup,omitempty"`
	CourierDelivery bool     `json:"courier_delivery,omitempty"`
	DeclaredValue   float64  `json:"declared_value,omitempty"`
}

// Offer is a carrier offer with the platform price breakdown applied.
type Offer struct {
	carrier.Offer
	PackagingPrice float64 `json:"packaging_price"`
	Commission     float64 `json:"commission"`
	AcquiringFee   float64 `json:"acquiring_fee"`
	Total          float64 `json:"total"`
}

// Calculator merges live carrier quotes with static weight-band tariffs into
// one ranked offer list.
type Calculator struct {
	companies CompanyLister
	backends  BackendFactory
	settings  Settings
	logger    *zap.Logger
}

func NewCalculator(companies CompanyLister, backends BackendFactory, settings Settings, logger *zap.Logger) *Calculator {
	return &Calculator{
		companies: companies,
		backends:  backends,
		settings:  settings,
		logger:    logger,
	}
}

// Quote prices the shipment across all active carriers. One carrier failing
// must not abort the others: partial results are valid results, and an empty
// list is a valid "no eligible offers" outcome.
func (c *Calculator) Quote(ctx context.Context, req Request) ([]Offer, error) {
	companies, err := c.listCompanies(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	appSettings, err := c.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	var merged []carrier.Offer
	for _, company := range companies {
		offers, err := c.quoteCompany(ctx, company, req)
		if err != nil {
			metrics.CarrierQuoteErrorsTotal.WithLabelValues(company.Code).Inc()
			c.logger.Warn("carrier quote failed, skipping",
				zap.String("carrier", company.Code), zap.Error(err))
			continue
		}
		merged = append(merged, offers...)
	}

	result := make([]Offer, 0, len(merged))
	for _, o := range merged {
		result = append(result, applyBreakdown(o, appSettings, req.DeclaredValue))
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].Total < result[j].Total })
	metrics.QuotesServedTotal.Inc()
	return result, nil
}

func (c *Calculator) listCompanies(ctx context.Context, companyID *int64) ([]*repository.TransportCompany, error) {
	if companyID != nil {
		company, err := c.companies.GetByID(ctx, *companyID)
		if err != nil {
			return nil, err
		}
		if !company.IsActive {
			return nil, nil
		}
		return []*repository.TransportCompany{company}, nil
	}
	return c.companies.ListActive(ctx)
}

func (c *Calculator) quoteCompany(ctx context.Context, company *repository.TransportCompany, req Request) ([]carrier.Offer, error) {
	// Live quoting needs a route; API carriers without both cities are skipped
	// silently, static bands still apply.
	if company.APIType != repository.APITypeInternal && (req.FromCity == "" || req.ToCity == "") {
		return nil, nil
	}

	backend, err := c.backends.ForCompany(company)
	if err != nil {
		return nil, err
	}

	return backend.Quote(ctx, carrier.QuoteRequest{
		FromCity:        req.FromCity,
		ToCity:          req.ToCity,
		Weight:          req.Weight,
		Length:          req.Length,
		Width:           req.Width,
		Height:          req.Height,
		DeclaredValue:   req.DeclaredValue,
		CourierPickup:   req.CourierPickup,
		CourierDelivery: req.CourierDelivery,
	})
}

// applyBreakdown computes the customer-facing total: carrier price plus
// packaging, insurance, platform commission and the acquiring fee.
func applyBreakdown(o carrier.Offer, s *repository.AppSettings, declaredValue float64) Offer {
	insurance := o.InsuranceCost
	if insurance == 0 && declaredValue > 0 {
		insurance = s.InsurancePrice
	}

	subtotal := o.Price + s.PackagingPrice + insurance
	commission := round2(subtotal * s.CommissionPercent / 100)
	acquiring := round2((subtotal + commission) * s.AcquiringPercent / 100)

	out := Offer{
		Offer:          o,
		PackagingPrice: s.PackagingPrice,
		Commission:     commission,
		AcquiringFee:   acquiring,
		Total:          round2(subtotal + commission + acquiring),
	}
	out.InsuranceCost = insurance
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
