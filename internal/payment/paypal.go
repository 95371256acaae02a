package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"paybridge/internal/pkg/httpclient"
)

const (
	paypalName       = "paypal"
	paypalLiveURL    = "https://api-m.paypal.com"
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
)

// PayPal drives the Orders v2 API. Payments are captured on return.
type PayPal struct {
	cfg    DriverConfig
	client *httpclient.Client
	logger *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalItem struct {
	Name       string      `json:"name"`
	Quantity   string      `json:"quantity"`
	UnitAmount paypalMoney `json:"unit_amount"`
}

type paypalAmount struct {
	paypalMoney
	Breakdown struct {
		ItemTotal paypalMoney `json:"item_total"`
	} `json:"breakdown"`
}

type paypalUnit struct {
	ReferenceID string       `json:"reference_id"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Items       []paypalItem `json:"items"`
}

type paypalContext struct {
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
	BrandName  string `json:"brand_name"`
	UserAction string `json:"user_action"`
}

type paypalOrder struct {
	Intent             string        `json:"intent"`
	PurchaseUnits      []paypalUnit  `json:"purchase_units"`
	ApplicationContext paypalContext `json:"application_context"`
}

func NewPayPal(cfg DriverConfig, logger *zap.Logger) (*PayPal, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: paypal requires client id and secret", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = paypalLiveURL
		if cfg.Sandbox {
			base = paypalSandboxURL
		}
	}
	base = strings.TrimRight(base, "/")
	return &PayPal{
		cfg:    cfg,
		client: httpclient.New().WithTimeout(cfg.Timeout).WithBaseURL(base),
		logger: logger.With(zap.String("driver", paypalName)),
	}, nil
}

func (p *PayPal) Name() string           { return paypalName }
func (p *PayPal) Type() GatewayType      { return TypeAPI }
func (p *PayPal) SupportsWebhooks() bool { return true }
func (p *PayPal) SupportsRefunds() bool  { return true }

// accessToken returns a cached OAuth token, fetching a new one shortly before expiry.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	resp, err := httpclient.Do(p.client.Request(ctx).
		SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post("/v1/oauth2/token"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayTransport, err)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if !resp.OK() || resp.JSON(&tok) != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("paypal token request failed: %s", resp.String())
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= time.Minute {
		ttl = 5 * time.Minute
	}
	p.token = tok.AccessToken
	p.tokenExpiry = time.Now().Add(ttl - time.Minute)
	return p.token, nil
}

func (p *PayPal) order(pay *Payable) paypalOrder {
	currency := pay.CurrencyOr(p.cfg.Currency)
	items := lineItems(pay, maxItems(pay, p.cfg, DefaultMaxItems))
	ppItems := make([]paypalItem, len(items))
	for i, it := range items {
		ppItems[i] = paypalItem{
			Name:       it.Name,
			Quantity:   strconv.Itoa(it.Quantity),
			UnitAmount: paypalMoney{CurrencyCode: currency, Value: formatMajor(it.Price)},
		}
	}
	total := paypalMoney{CurrencyCode: currency, Value: formatMajor(pay.Amount)}
	unit := paypalUnit{
		ReferenceID: pay.Reference,
		Description: pay.Description,
		Items:       ppItems,
	}
	unit.Amount.paypalMoney = total
	unit.Amount.Breakdown.ItemTotal = total

	brand := pay.Settings.Get(SettingBrandName, p.cfg.BrandName)
	if brand == "" {
		brand = "Payment"
	}
	return paypalOrder{
		Intent:        "CAPTURE",
		PurchaseUnits: []paypalUnit{unit},
		ApplicationContext: paypalContext{
			ReturnURL:  withReference(pay.URLs.Return, pay.Reference),
			CancelURL:  withReference(pay.CancelURL(), pay.Reference),
			BrandName:  brand,
			UserAction: "PAY_NOW",
		},
	}
}

func (p *PayPal) Initiate(ctx context.Context, pay *Payable) InitiationResult {
	token, err := p.accessToken(ctx)
	if err != nil {
		p.logger.Warn("paypal auth failed", zap.Error(err))
		return initiationError("Failed to authenticate with PayPal")
	}

	body := p.order(pay)
	resp, err := httpclient.Do(p.client.Request(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v2/checkout/orders"))
	if err != nil {
		return initiationError("PayPal API Error: " + err.Error())
	}
	data := decodeObject(resp.Body)
	if !resp.OK() {
		return initiationError(paypalError(data, "Failed to create PayPal order"))
	}

	links, _ := data["links"].([]any)
	for _, l := range links {
		link, _ := l.(map[string]any)
		if stringAt(link, "rel") == "approve" || stringAt(link, "rel") == "payer-action" {
			return InitiationResult{
				Type:       InitiationRedirect,
				URL:        stringAt(link, "href"),
				GatewayRef: stringAt(data, "id"),
				Request:    body,
			}
		}
	}
	return initiationError("PayPal did not return an approval link")
}

func (p *PayPal) Verify(ctx context.Context, _ *Payable, payload map[string]any) VerificationResult {
	orderID := firstString(payload, "orderID", "token", "order_id")
	if orderID == "" {
		return rejected("No order ID provided", nil)
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		if errors.Is(err, ErrGatewayTransport) {
			return transportFailure("Failed to get PayPal access token", err)
		}
		return rejected("Failed to get PayPal access token", nil)
	}

	p.logger.Info("capturing paypal order", zap.String("order_id", orderID))
	resp, err := httpclient.Do(p.client.Request(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{}).
		Post("/v2/checkout/orders/" + orderID + "/capture"))
	if err != nil {
		return transportFailure("PayPal API Error: "+err.Error(), err)
	}
	data := decodeObject(resp.Body)
	if resp.OK() && stringAt(data, "status") == "COMPLETED" {
		txn := stringAt(data, "purchase_units.0.payments.captures.0.id")
		if txn == "" {
			txn = orderID
		}
		return verified(txn, data)
	}
	return rejected(paypalError(data, "Payment capture failed"), data)
}

func paypalError(data map[string]any, fallback string) string {
	if msg := firstString(data, "message", "details.0.description", "error_description"); msg != "" {
		return msg
	}
	return fallback
}

// VerifySignature accepts everything: captures are confirmed by the API call itself.
func (p *PayPal) VerifySignature(*CallbackRequest) bool { return true }

func (p *PayPal) ExtractReference(_ context.Context, r *CallbackRequest) string {
	if ref := r.QueryValue("reference"); ref != "" {
		return ref
	}
	return firstString(r.Body, "resource.purchase_units.0.reference_id", "resource.id")
}

func (p *PayPal) Refund(ctx context.Context, transactionID string, amount *int64) RefundResult {
	token, err := p.accessToken(ctx)
	if err != nil {
		return RefundResult{Error: "Failed to get PayPal access token"}
	}
	body := map[string]any{}
	if amount != nil {
		currency := strings.ToUpper(p.cfg.Currency)
		if currency == "" {
			currency = "USD"
		}
		body["amount"] = paypalMoney{CurrencyCode: currency, Value: formatMajor(*amount)}
	}
	resp, err := httpclient.Do(p.client.Request(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v2/payments/captures/" + transactionID + "/refund"))
	if err != nil {
		return RefundResult{Error: "PayPal API Error: " + err.Error(), Meta: map[string]any{MetaTransportError: err.Error()}}
	}
	data := decodeObject(resp.Body)
	if !resp.OK() {
		return RefundResult{Error: paypalError(data, "Refund failed"), Meta: data}
	}
	return RefundResult{Success: true, RefundID: stringAt(data, "id"), Meta: data}
}

func (p *PayPal) CheckStatus(ctx context.Context, pay *Payable) StatusCheck {
	if pay.GatewayRef == "" {
		return unknownStatus("No PayPal order recorded for this payment.")
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		return unknownStatus("Unable to reach PayPal.")
	}
	resp, err := httpclient.Do(p.client.Request(ctx).SetAuthToken(token).Get("/v2/checkout/orders/" + pay.GatewayRef))
	if err != nil || !resp.OK() {
		return unknownStatus("Unable to reach PayPal.")
	}
	data := decodeObject(resp.Body)
	switch stringAt(data, "status") {
	case "COMPLETED":
		return StatusCheck{
			Status:        StatusPaid,
			Message:       StatusMessage(StatusPaid),
			TransactionID: stringAt(data, "purchase_units.0.payments.captures.0.id"),
		}
	case "VOIDED":
		return StatusCheck{Status: StatusCancelled, Message: StatusMessage(StatusCancelled)}
	default:
		return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
	}
}
