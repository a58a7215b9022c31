package cdek

import "fmt"

// APIError is a non-2xx answer from the CDEK API after the retry budget is
// spent.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cdek api error (status %d): %s", e.Status, e.Detail)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type cityEntry struct {
	Code int    `json:"code"`
	City string `json:"city"`
}

type location struct {
	Code    int    `json:"code,omitempty"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
}

type packageDims struct {
	Weight int `json:"weight"`
	Length int `json:"length"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type service struct {
	Code      string `json:"code"`
	Parameter string `json:"parameter,omitempty"`
	Sum       float64 `json:"sum,omitempty"`
}

type tariffListRequest struct {
	FromLocation location      `json:"from_location"`
	ToLocation   location      `json:"to_location"`
	Packages     []packageDims `json:"packages"`
}

type tariffListEntry struct {
	TariffCode  int     `json:"tariff_code"`
	TariffName  string  `json:"tariff_name"`
	DeliverySum float64 `json:"delivery_sum"`
	PeriodMin   int     `json:"period_min"`
	PeriodMax   int     `json:"period_max"`
}

type tariffListResponse struct {
	TariffCodes []tariffListEntry `json:"tariff_codes"`
}

type tariffRequest struct {
	TariffCode   int           `json:"tariff_code"`
	FromLocation location      `json:"from_location"`
	ToLocation   location      `json:"to_location"`
	Packages     []packageDims `json:"packages"`
	Services     []service     `json:"services,omitempty"`
}

type tariffResponse struct {
	DeliverySum float64   `json:"delivery_sum"`
	TotalSum    float64   `json:"total_sum"`
	PeriodMin   int       `json:"period_min"`
	Services    []service `json:"services"`
}

type phone struct {
	Number string `json:"number"`
}

type contact struct {
	Name           string  `json:"name"`
	Company        string  `json:"company,omitempty"`
	ContragentType string  `json:"contragent_type,omitempty"`
	TIN            string  `json:"tin,omitempty"`
	Phones         []phone `json:"phones"`
}

type seller struct {
	Name    string `json:"name"`
	INN     string `json:"inn,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type itemPayment struct {
	Value float64 `json:"value"`
}

type item struct {
	Name    string      `json:"name"`
	WareKey string      `json:"ware_key"`
	Cost    float64     `json:"cost"`
	Weight  int         `json:"weight"`
	Amount  int         `json:"amount"`
	Payment itemPayment `json:"payment"`
}

type pkg struct {
	Number  string `json:"number"`
	Weight  int    `json:"weight"`
	Length  int    `json:"length"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Comment string `json:"comment,omitempty"`
	Items   []item `json:"items"`
}

type money struct {
	Value float64 `json:"value"`
}

type orderRequest struct {
	Type                  int      `json:"type"`
	Number                string   `json:"number"`
	TariffCode            int      `json:"tariff_code"`
	Sender                contact  `json:"sender"`
	Recipient             contact  `json:"recipient"`
	Seller                *seller  `json:"seller,omitempty"`
	FromLocation          location `json:"from_location"`
	ToLocation            *location `json:"to_location,omitempty"`
	DeliveryPoint         string   `json:"delivery_point,omitempty"`
	DeliveryRecipientCost money    `json:"delivery_recipient_cost"`
	Packages              []pkg    `json:"packages"`
}

type apiErrorEntry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type requestState struct {
	State  string          `json:"state"`
	Errors []apiErrorEntry `json:"errors"`
}

type statusEntry struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	DateTime string `json:"date_time"`
}

type orderEntity struct {
	UUID       string        `json:"uuid"`
	CdekNumber string        `json:"cdek_number"`
	Statuses   []statusEntry `json:"statuses"`
}

type orderResponse struct {
	Entity   orderEntity    `json:"entity"`
	Requests []requestState `json:"requests"`
}

type DeliveryPoint struct {
	Code     string `json:"code"`
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Location struct {
		Address string `json:"address"`
	} `json:"location"`
}

type intakeRequest struct {
	CdekNumber     string `json:"cdek_number,omitempty"`
	OrderUUID      string `json:"order_uuid,omitempty"`
	IntakeDate     string `json:"intake_date"`
	IntakeTimeFrom string `json:"intake_time_from"`
	IntakeTimeTo   string `json:"intake_time_to"`
}

type printOrder struct {
	OrderUUID string `json:"order_uuid"`
}

type printRequest struct {
	Orders []printOrder `json:"orders"`
}

type printEntity struct {
	UUID string `json:"uuid"`
	URL  string `json:"url"`
}

type printResponse struct {
	Entity printEntity `json:"entity"`
}
