package cdek

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

// Tariff codes for the four pickup/delivery combinations.
const (
	TariffWarehouseWarehouse = 136
	TariffWarehouseDoor      = 137
	TariffDoorWarehouse      = 138
	TariffDoorDoor           = 139
)

// ComboTariffCode selects the single tariff for a courier pickup/delivery
// combination.
func ComboTariffCode(courierPickup, courierDelivery bool) int {
	switch {
	case courierPickup && courierDelivery:
		return TariffDoorDoor
	case courierPickup:
		return TariffDoorWarehouse
	case courierDelivery:
		return TariffWarehouseDoor
	default:
		return TariffWarehouseWarehouse
	}
}

// PVZTariffCodes are the tariffs deliverable to a pickup point. A customer
// tariff outside this set is rejected when a PVZ is requested.
var PVZTariffCodes = map[int]bool{
	136: true, 137: true, 138: true, 139: true,
	62: true, 63: true,
	233: true, 234: true, 235: true, 236: true, 237: true, 238: true, 239: true, 240: true,
}

// Backend adapts Client to the carrier strategy interface.
type Backend struct {
	company *repository.TransportCompany
	client  *Client
	logger  *zap.Logger
}

func NewBackend(company *repository.TransportCompany, client *Client, logger *zap.Logger) *Backend {
	return &Backend{company: company, client: client, logger: logger}
}

var _ carrier.Backend = (*Backend)(nil)
var _ carrier.CourierScheduler = (*Backend)(nil)

func (b *Backend) Quote(ctx context.Context, req carrier.QuoteRequest) ([]carrier.Offer, error) {
	fromCode, err := b.client.ResolveCity(ctx, req.FromCity)
	if err != nil {
		return nil, err
	}
	toCode, err := b.client.ResolveCity(ctx, req.ToCity)
	if err != nil {
		return nil, err
	}

	dims := quoteDims(req.Weight, req.Length, req.Width, req.Height)

	// A pinned tariff or an explicit courier combination narrows the quote
	// to a single tariff-specific call; otherwise the full list is priced.
	if req.TariffCode != nil || req.CourierPickup || req.CourierDelivery {
		code := ComboTariffCode(req.CourierPickup, req.CourierDelivery)
		if req.TariffCode != nil {
			code = *req.TariffCode
		}
		resp, err := b.client.TariffWithInsurance(ctx, code, fromCode, toCode, dims, req.DeclaredValue)
		if err != nil {
			return nil, err
		}
		offer := carrier.Offer{
			CompanyID:     b.company.ID,
			CompanyName:   b.company.Name,
			CompanyCode:   b.company.Code,
			LogoURL:       b.company.LogoURL,
			Price:         resp.DeliverySum,
			TariffCode:    intPtr(code),
			TariffName:    tariffName(code),
			DeliveryDays:  resp.PeriodMin,
			InsuranceCost: insuranceSum(resp.Services),
		}
		return []carrier.Offer{offer}, nil
	}

	entries, err := b.client.TariffList(ctx, fromCode, toCode, dims)
	if err != nil {
		return nil, err
	}

	offers := make([]carrier.Offer, 0, len(entries))
	for _, e := range entries {
		offer := carrier.Offer{
			CompanyID:    b.company.ID,
			CompanyName:  b.company.Name,
			CompanyCode:  b.company.Code,
			LogoURL:      b.company.LogoURL,
			Price:        e.DeliverySum,
			TariffCode:   intPtr(e.TariffCode),
			TariffName:   e.TariffName,
			DeliveryDays: e.PeriodMin,
		}

		// Insurance pricing is only reported on a tariff-specific request
		// with a services array; a failed second call is soft, the offer
		// simply ships without an insurance figure.
		if req.DeclaredValue > 0 {
			resp, err := b.client.TariffWithInsurance(ctx, e.TariffCode, fromCode, toCode, dims, req.DeclaredValue)
			if err != nil {
				b.logger.Warn("insurance quote failed",
					zap.Int("tariff_code", e.TariffCode), zap.Error(err))
			} else {
				offer.InsuranceCost = insuranceSum(resp.Services)
			}
		}
		offers = append(offers, offer)
	}

	sort.SliceStable(offers, func(i, j int) bool { return offers[i].Price < offers[j].Price })
	return offers, nil
}

func (b *Backend) Book(ctx context.Context, req carrier.BookRequest) (*carrier.BookResult, error) {
	fromCode, err := b.client.ResolveCity(ctx, req.Sender.City)
	if err != nil {
		return nil, fmt.Errorf("sender city: %w", err)
	}
	toCode, err := b.client.ResolveCity(ctx, req.Recipient.City)
	if err != nil {
		return nil, fmt.Errorf("recipient city: %w", err)
	}

	deliveryPoint := ""
	if req.DeliveryPointCode != nil && *req.DeliveryPointCode != "" {
		deliveryPoint = b.resolveDeliveryPoint(ctx, toCode, *req.DeliveryPointCode)
	}

	payload := b.buildOrderRequest(req, fromCode, toCode, deliveryPoint)

	resp, err := b.client.CreateOrder(ctx, payload)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(resp)

	if errs := invalidRequestErrors(resp.Requests); len(errs) > 0 {
		return nil, &carrier.Rejection{Errors: errs, Raw: raw}
	}
	if resp.Entity.UUID == "" {
		return nil, fmt.Errorf("cdek answered without an order uuid")
	}

	return &carrier.BookResult{
		ExternalUUID:   resp.Entity.UUID,
		ExternalNumber: resp.Entity.CdekNumber,
		DeliveryPoint:  deliveryPoint,
		Raw:            raw,
	}, nil
}

func (b *Backend) FetchStatus(ctx context.Context, externalUUID string) (*carrier.StatusInfo, error) {
	resp, err := b.client.GetOrder(ctx, externalUUID)
	if err != nil {
		return nil, err
	}

	info := &carrier.StatusInfo{TrackingNumber: resp.Entity.CdekNumber}
	for _, s := range resp.Entity.Statuses {
		info.Statuses = append(info.Statuses, carrier.StatusEntry{
			Code: s.Code, Name: s.Name, DateTime: s.DateTime,
		})
	}
	return info, nil
}

func (b *Backend) ScheduleCourier(ctx context.Context, externalUUID, date, timeFrom, timeTo string) error {
	return b.client.CallCourier(ctx, externalUUID, date, timeFrom, timeTo)
}

// LabelURL exposes document retrieval for the confirmation page.
func (b *Backend) LabelURL(ctx context.Context, externalUUID string) (string, error) {
	return b.client.OrderLabelURL(ctx, externalUUID)
}

// CancelShipment withdraws the carrier order.
func (b *Backend) CancelShipment(ctx context.Context, externalUUID string) error {
	return b.client.DeleteOrder(ctx, externalUUID)
}

// resolveDeliveryPoint translates a locally stored short code into the
// carrier-native point identifier; the booking API only accepts the native
// form. Translation failure falls back to passing the code through as-is.
func (b *Backend) resolveDeliveryPoint(ctx context.Context, cityCode int, code string) string {
	// Carrier-native identifiers contain a dash; short codes do not.
	if strings.Contains(code, "-") {
		return code
	}

	points, err := b.client.DeliveryPoints(ctx, cityCode, 100)
	if err != nil {
		b.logger.Warn("delivery point lookup failed, passing code through",
			zap.String("code", code), zap.Error(err))
		return code
	}
	for _, p := range points {
		if p.Code == code && p.UUID != "" {
			return p.UUID
		}
	}
	b.logger.Warn("delivery point code not found in city list, passing code through",
		zap.String("code", code), zap.Int("city_code", cityCode))
	return code
}

func (b *Backend) buildOrderRequest(req carrier.BookRequest, fromCode, toCode int, deliveryPoint string) orderRequest {
	number := strconv.FormatInt(req.OrderID, 10)

	weightGrams := int(req.Weight * 1000)
	length := bookDim(req.Length, req.Weight)
	width := bookDim(req.Width, req.Weight)
	height := bookDim(req.Height, req.Weight)

	sender := contact{
		Name:           strings.TrimSpace(req.Sender.Name),
		Company:        req.Sender.Company,
		ContragentType: req.Sender.ContragentType,
		TIN:            req.Sender.TIN,
		Phones:         []phone{{Number: cleanPhone(req.Sender.Phone)}},
	}
	if sender.Company == "" {
		sender.Company = sender.Name
	}

	payload := orderRequest{
		Type:       1,
		Number:     number,
		TariffCode: req.TariffCode,
		Sender:     sender,
		Recipient: contact{
			Name:   req.Recipient.Name,
			Phones: []phone{{Number: cleanPhone(req.Recipient.Phone)}},
		},
		FromLocation: location{
			Code:    fromCode,
			Address: addressOrCity(req.Sender),
		},
		DeliveryRecipientCost: money{Value: 0},
		Packages: []pkg{{
			Number:  number,
			Weight:  weightGrams,
			Length:  length,
			Width:   width,
			Height:  height,
			Comment: "Parcel #" + number,
			Items: []item{{
				Name:    "Parcel",
				WareKey: "ITEM-" + number,
				Cost:    req.DeclaredValue,
				Weight:  weightGrams,
				Amount:  1,
				// Payment captured by the platform already, never collect on
				// delivery.
				Payment: itemPayment{Value: 0},
			}},
		}},
	}

	if deliveryPoint != "" {
		payload.DeliveryPoint = deliveryPoint
	} else {
		payload.ToLocation = &location{
			Code:    toCode,
			Address: addressOrCity(req.Recipient),
		}
	}

	if req.Seller != nil {
		payload.Seller = &seller{
			Name:    req.Seller.Name,
			INN:     req.Seller.TIN,
			Phone:   cleanPhone(req.Seller.Phone),
			Address: req.Seller.Address,
		}
	}

	return payload
}

func invalidRequestErrors(requests []requestState) []string {
	var msgs []string
	for _, r := range requests {
		if r.State == "INVALID" && len(r.Errors) > 0 {
			for _, e := range r.Errors {
				msgs = append(msgs, fmt.Sprintf("%s: %s", e.Code, e.Message))
			}
		}
	}
	return msgs
}

// quoteDims defaults unset dimensions to 10 cm for price estimation.
func quoteDims(weight float64, length, width, height *float64) packageDims {
	dim := func(v *float64) int {
		if v != nil && *v > 0 {
			return int(*v)
		}
		return 10
	}
	return packageDims{
		Weight: int(weight * 1000),
		Length: dim(length),
		Width:  dim(width),
		Height: dim(height),
	}
}

// bookDim defaults an unset dimension to a minimal non-zero footprint:
// carriers reject zero-sized packages. 10 cm per side for anything heavier
// than 100 g, 1 cm otherwise.
func bookDim(v *float64, weight float64) int {
	if v != nil && *v > 0 {
		if int(*v) < 1 {
			return 1
		}
		return int(*v)
	}
	if weight > 0.1 {
		return 10
	}
	return 1
}

func cleanPhone(p string) string {
	r := strings.NewReplacer(" ", "", "(", "", ")", "", "-", "")
	return r.Replace(p)
}

func addressOrCity(p carrier.Party) string {
	if p.Address != "" {
		return p.Address
	}
	return p.City
}

func insuranceSum(services []service) float64 {
	for _, s := range services {
		if s.Code == "INSURANCE" {
			return s.Sum
		}
	}
	return 0
}

func intPtr(v int) *int { return &v }

func tariffName(code int) string {
	names := map[int]string{
		TariffWarehouseWarehouse: "Посылка склад-склад",
		TariffWarehouseDoor:      "Посылка склад-дверь",
		TariffDoorWarehouse:      "Посылка дверь-склад",
		TariffDoorDoor:           "Посылка дверь-дверь",
	}
	if n, ok := names[code]; ok {
		return n
	}
	return "Тариф " + strconv.Itoa(code)
}
