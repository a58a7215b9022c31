package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/carrier/cdek"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

// Registry builds the backend strategy for a transport company and keeps one
// CDEK client per company alive so cached tokens and city codes are reused
// across requests.
type Registry struct {
	bands    carrier.BandLister
	logger   *zap.Logger
	testMode bool

	mu      sync.Mutex
	clients map[int64]*cdek.Client
}

func New(bands carrier.BandLister, testMode bool, logger *zap.Logger) *Registry {
	return &Registry{
		bands:    bands,
		logger:   logger,
		testMode: testMode,
		clients:  make(map[int64]*cdek.Client),
	}
}

func (r *Registry) ForCompany(company *repository.TransportCompany) (carrier.Backend, error) {
	switch company.APIType {
	case repository.APITypeInternal:
		return carrier.NewInternalBackend(company, r.bands), nil
	case repository.APITypeCDEK:
		if company.APIAccount == nil || company.APISecurePassword == nil {
			return nil, fmt.Errorf("carrier %s has no API credentials", company.Code)
		}
		return cdek.NewBackend(company, r.client(company), r.logger), nil
	default:
		return nil, fmt.Errorf("unknown carrier api type %q", company.APIType)
	}
}

func (r *Registry) client(company *repository.TransportCompany) *cdek.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[company.ID]; ok {
		return c
	}
	c := cdek.NewClient(*company.APIAccount, *company.APISecurePassword, r.testMode, r.logger)
	r.clients[company.ID] = c
	return c
}
