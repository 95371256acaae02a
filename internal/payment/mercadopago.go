package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	mppayment "github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/mercadopago/sdk-go/pkg/requester"
	"go.uber.org/zap"
)

const mercadoPagoName = "mercadopago"

// The subsets of the SDK clients the driver calls.
type (
	mpPreferences interface {
		Create(ctx context.Context, request preference.Request) (*preference.Response, error)
	}
	mpPayments interface {
		Get(ctx context.Context, id int) (*mppayment.Response, error)
		Search(ctx context.Context, request mppayment.SearchRequest) (*mppayment.SearchResponse, error)
	}
)

// MercadoPago drives Checkout Pro through the official SDK. Notifications
// only carry a payment id; the payment is fetched to learn its outcome.
type MercadoPago struct {
	cfg         DriverConfig
	preferences mpPreferences
	payments    mpPayments
	logger      *zap.Logger
}

func NewMercadoPago(cfg DriverConfig, logger *zap.Logger) (*MercadoPago, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// The SDK's default requester retries 5xx responses; provider calls here must not be.
	return newMercadoPago(cfg, &http.Client{Timeout: timeout}, logger)
}

func newMercadoPago(cfg DriverConfig, hc requester.Requester, logger *zap.Logger) (*MercadoPago, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: mercadopago requires an access token", ErrConfiguration)
	}
	sdk, err := mpconfig.New(cfg.AccessToken, mpconfig.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("%w: mercadopago: %v", ErrConfiguration, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MercadoPago{
		cfg:         cfg,
		preferences: preference.NewClient(sdk),
		payments:    mppayment.NewClient(sdk),
		logger:      logger.With(zap.String("driver", mercadoPagoName)),
	}, nil
}

func (m *MercadoPago) Name() string           { return mercadoPagoName }
func (m *MercadoPago) Type() GatewayType      { return TypeAPI }
func (m *MercadoPago) SupportsWebhooks() bool { return true }
func (m *MercadoPago) SupportsRefunds() bool  { return false }

func (m *MercadoPago) Initiate(ctx context.Context, p *Payable) InitiationResult {
	currency := p.CurrencyOr(m.cfg.Currency)
	items := lineItems(p, maxItems(p, m.cfg, DefaultMaxItems))
	reqItems := make([]preference.ItemRequest, len(items))
	for i, it := range items {
		reqItems[i] = preference.ItemRequest{
			Title:      it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  float64(it.Price) / 100,
			CurrencyID: currency,
		}
	}

	req := preference.Request{
		Items:             reqItems,
		Payer:             &preference.PayerRequest{Email: p.Customer.Email},
		ExternalReference: p.Reference,
		AutoReturn:        "approved",
		BackURLs: &preference.BackURLsRequest{
			Success: withReference(p.URLs.Return, p.Reference),
			Failure: withReference(p.CancelURL(), p.Reference),
			Pending: withReference(p.URLs.Return, p.Reference),
		},
		NotificationURL: p.URLs.Callback,
	}

	result, err := m.preferences.Create(ctx, req)
	if err != nil {
		m.logger.Warn("create preference failed", zap.String("reference", p.Reference), zap.Error(err))
		return initiationError("Mercado Pago API Error: " + err.Error())
	}
	url := result.InitPoint
	if m.cfg.Sandbox && result.SandboxInitPoint != "" {
		url = result.SandboxInitPoint
	}
	return InitiationResult{Type: InitiationRedirect, URL: url, GatewayRef: result.ID, Request: req}
}

func paymentID(payload map[string]any) string {
	return firstString(payload, "data.id", "payment_id", "collection_id", "id")
}

func (m *MercadoPago) fetch(ctx context.Context, rawID string) (*mppayment.Response, error) {
	id, err := strconv.Atoi(strings.TrimSpace(rawID))
	if err != nil {
		return nil, fmt.Errorf("invalid payment id %q", rawID)
	}
	res, err := m.payments.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayTransport, err)
	}
	return res, nil
}

func (m *MercadoPago) Verify(ctx context.Context, _ *Payable, payload map[string]any) VerificationResult {
	id := paymentID(payload)
	if id == "" {
		return rejected("No payment ID provided", nil)
	}
	res, err := m.fetch(ctx, id)
	if err != nil {
		return transportFailure("Failed to retrieve payment from Mercado Pago: "+err.Error(), err)
	}

	meta := map[string]any{
		"payment_id":    res.ID,
		"status":        res.Status,
		"status_detail": res.StatusDetail,
		"amount":        res.TransactionAmount,
	}
	if res.Status == "approved" {
		return verified(strconv.Itoa(res.ID), meta)
	}
	return rejected(fmt.Sprintf("Payment status: %s (%s)", res.Status, res.StatusDetail), meta)
}

// VerifySignature checks x-signature: HMAC-SHA256 of
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" with the webhook secret.
func (m *MercadoPago) VerifySignature(r *CallbackRequest) bool {
	if m.cfg.WebhookSecret == "" {
		return true
	}
	var ts, hash string
	for _, part := range strings.Split(r.Header.Get("X-Signature"), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			hash = v
		}
	}
	if ts == "" || hash == "" {
		return false
	}

	dataID := r.QueryValue("data.id")
	if dataID == "" {
		dataID = stringAt(r.Body, "data.id")
	}
	var parts []string
	if dataID != "" {
		parts = append(parts, "id:"+strings.ToLower(dataID))
	}
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		parts = append(parts, "request-id:"+rid)
	}
	parts = append(parts, "ts:"+ts)
	manifest := strings.Join(parts, ";") + ";"

	mac := hmac.New(sha256.New, []byte(m.cfg.WebhookSecret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(hash), []byte(expected))
}

func (m *MercadoPago) ExtractReference(ctx context.Context, r *CallbackRequest) string {
	if ref := r.QueryValue("reference"); ref != "" {
		return ref
	}
	if ref := r.Input("external_reference"); ref != "" {
		return ref
	}
	id := paymentID(r.Payload())
	if id == "" {
		return ""
	}
	res, err := m.fetch(ctx, id)
	if err != nil {
		m.logger.Warn("payment lookup for reference failed", zap.String("payment_id", id), zap.Error(err))
		return ""
	}
	return res.ExternalReference
}

func (m *MercadoPago) Refund(context.Context, string, *int64) RefundResult {
	return RefundResult{Error: "Mercado Pago refunds must be issued from the Mercado Pago dashboard"}
}

// CheckStatus looks the payment up by id once one is recorded. Before that the
// payments carrying the payable's external reference are searched, and an
// approved one wins over the most recent attempt.
func (m *MercadoPago) CheckStatus(ctx context.Context, p *Payable) StatusCheck {
	if p.TransactionID != "" {
		res, err := m.fetch(ctx, p.TransactionID)
		if err != nil {
			return unknownStatus("Unable to reach Mercado Pago.")
		}
		return mpStatusCheck(res)
	}

	found, err := m.payments.Search(ctx, mppayment.SearchRequest{
		Limit: 10,
		Filters: map[string]string{
			"external_reference": p.Reference,
			"sort":               "date_created",
			"criteria":           "desc",
		},
	})
	if err != nil {
		m.logger.Warn("payment search failed", zap.String("reference", p.Reference), zap.Error(err))
		return unknownStatus("Unable to reach Mercado Pago.")
	}
	if found == nil || len(found.Results) == 0 {
		return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
	}
	for i := range found.Results {
		if found.Results[i].Status == "approved" {
			return mpStatusCheck(&found.Results[i])
		}
	}
	return mpStatusCheck(&found.Results[0])
}

func mpStatusCheck(res *mppayment.Response) StatusCheck {
	switch res.Status {
	case "approved":
		return StatusCheck{Status: StatusPaid, Message: StatusMessage(StatusPaid), TransactionID: strconv.Itoa(res.ID)}
	case "rejected":
		return StatusCheck{Status: StatusFailed, Message: StatusMessage(StatusFailed)}
	case "cancelled":
		return StatusCheck{Status: StatusCancelled, Message: StatusMessage(StatusCancelled)}
	case "refunded", "charged_back":
		return StatusCheck{Status: StatusRefunded, Message: StatusMessage(StatusRefunded)}
	default:
		return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
	}
}
