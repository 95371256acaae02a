package payment

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"paybridge/internal/pkg/httpclient"
)

const (
	chipName       = "chip"
	chipBaseURL    = "https://gate.chip-in.asia/api/v1"
	chipCheckout   = "https://gate.chip-in.asia/checkout/"
	chipDefaultMax = 10
)

// Chip drives the CHIP (chip-in.asia) purchases API. Outcomes arrive by webhook.
type Chip struct {
	cfg       DriverConfig
	client    *httpclient.Client
	publicKey *rsa.PublicKey
	logger    *zap.Logger
}

type chipClient struct {
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	FullName string `json:"full_name"`
}

type chipProduct struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type chipPurchaseDetails struct {
	Currency      string        `json:"currency"`
	Products      []chipProduct `json:"products"`
	TotalOverride int64         `json:"total_override"`
}

type chipPurchase struct {
	BrandID         string              `json:"brand_id"`
	Client          chipClient          `json:"client"`
	Purchase        chipPurchaseDetails `json:"purchase"`
	SuccessRedirect string              `json:"success_redirect"`
	FailureRedirect string              `json:"failure_redirect"`
	SuccessCallback string              `json:"success_callback"`
	Reference       string              `json:"reference"`
	Language        string              `json:"language"`
}

// NewChip builds the driver. cfg.PublicKey, when set, must be the PEM encoded
// key CHIP signs webhooks with.
func NewChip(cfg DriverConfig, logger *zap.Logger) (*Chip, error) {
	if cfg.SecretKey == "" || cfg.BrandID == "" {
		return nil, fmt.Errorf("%w: chip requires secret key and brand id", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = chipBaseURL
	}
	c := &Chip{
		cfg: cfg,
		client: httpclient.New().
			WithTimeout(cfg.Timeout).
			WithBaseURL(strings.TrimRight(base, "/")).
			WithBearerToken(cfg.SecretKey),
		logger: logger.With(zap.String("driver", chipName)),
	}
	if cfg.PublicKey != "" {
		key, err := parseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: chip public key: %v", ErrConfiguration, err)
		}
		c.publicKey = key
	}
	return c, nil
}

func (c *Chip) Name() string           { return chipName }
func (c *Chip) Type() GatewayType      { return TypeWebhook }
func (c *Chip) SupportsWebhooks() bool { return true }
func (c *Chip) SupportsRefunds() bool  { return true }

func (c *Chip) purchase(p *Payable) chipPurchase {
	items := lineItems(p, maxItems(p, c.cfg, chipDefaultMax))
	products := make([]chipProduct, len(items))
	for i, it := range items {
		products[i] = chipProduct{Name: it.Name, Quantity: it.Quantity, Price: it.Price}
	}
	lang := p.Settings.Get(SettingLanguage, c.cfg.Language)
	if lang == "" {
		lang = "en"
	}
	return chipPurchase{
		BrandID: c.cfg.BrandID,
		Client: chipClient{
			Email:    p.Customer.Email,
			Phone:    p.Customer.Phone,
			FullName: p.Customer.Name,
		},
		Purchase: chipPurchaseDetails{
			Currency:      p.CurrencyOr(c.cfg.Currency),
			Products:      products,
			TotalOverride: p.Amount,
		},
		SuccessRedirect: withReference(p.URLs.Return, p.Reference),
		FailureRedirect: withReference(p.CancelURL(), p.Reference),
		SuccessCallback: p.URLs.Callback,
		Reference:       p.Reference,
		Language:        lang,
	}
}

func (c *Chip) Initiate(ctx context.Context, p *Payable) InitiationResult {
	body := c.purchase(p)
	resp, err := c.client.PostJSON(ctx, "/purchases/", body)
	if err != nil {
		c.logger.Warn("create purchase failed", zap.String("reference", p.Reference), zap.Error(err))
		return initiationError("CHIP API Error: " + err.Error())
	}
	if !resp.OK() {
		return initiationError("CHIP API Error: " + resp.String())
	}

	data := decodeObject(resp.Body)
	id := stringAt(data, "id")
	url := stringAt(data, "checkout_url")
	if url == "" {
		url = chipCheckout + id
	}
	return InitiationResult{Type: InitiationRedirect, URL: url, GatewayRef: id, Request: body}
}

func (c *Chip) Verify(_ context.Context, _ *Payable, payload map[string]any) VerificationResult {
	status := strings.ToLower(stringAt(payload, "status"))
	if status == "paid" || status == "success" {
		return verified(firstString(payload, "transaction_id", "id"), copyMap(payload))
	}

	msg := firstString(payload, "failed_reason", "status_description", "error", "reason")
	if msg == "" {
		shown := status
		if shown == "" {
			shown = "unknown status"
		}
		msg = fmt.Sprintf("Payment not successful (%s)", shown)
	}
	return rejected(msg, copyMap(payload))
}

// VerifySignature checks X-Signature, a base64 RSA-SHA256 signature over the raw body.
func (c *Chip) VerifySignature(r *CallbackRequest) bool {
	if c.publicKey == nil {
		return true
	}
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Signature"))
	if err != nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(r.RawBody)
	return rsa.VerifyPKCS1v15(c.publicKey, crypto.SHA256, digest[:], sig) == nil
}

func (c *Chip) ExtractReference(_ context.Context, r *CallbackRequest) string {
	if ref := stringAt(r.Body, "reference"); ref != "" {
		return ref
	}
	if ref := r.QueryValue("reference"); ref != "" {
		return ref
	}
	return r.Input("id")
}

func (c *Chip) Refund(ctx context.Context, transactionID string, amount *int64) RefundResult {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = *amount
	}
	resp, err := c.client.PostJSON(ctx, "/purchases/"+transactionID+"/refund/", body)
	if err != nil {
		return RefundResult{Error: "CHIP API Error: " + err.Error(), Meta: map[string]any{MetaTransportError: err.Error()}}
	}
	data := decodeObject(resp.Body)
	if !resp.OK() {
		return RefundResult{Error: "CHIP API Error: " + resp.String(), Meta: data}
	}
	return RefundResult{Success: true, RefundID: stringAt(data, "id"), Meta: data}
}

func (c *Chip) CheckStatus(ctx context.Context, p *Payable) StatusCheck {
	if p.GatewayRef == "" {
		return unknownStatus("No CHIP purchase recorded for this payment.")
	}
	resp, err := c.client.Get(ctx, "/purchases/"+p.GatewayRef+"/")
	if err != nil || !resp.OK() {
		return unknownStatus("Unable to reach CHIP.")
	}
	data := decodeObject(resp.Body)
	switch strings.ToLower(stringAt(data, "status")) {
	case "paid":
		return StatusCheck{
			Status:        StatusPaid,
			Message:       StatusMessage(StatusPaid),
			TransactionID: firstString(data, "transaction_id", "id"),
		}
	case "expired":
		return StatusCheck{Status: StatusExpired, Message: StatusMessage(StatusExpired)}
	case "cancelled":
		return StatusCheck{Status: StatusCancelled, Message: StatusMessage(StatusCancelled)}
	case "error", "blocked":
		return StatusCheck{Status: StatusFailed, Message: StatusMessage(StatusFailed)}
	default:
		return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
	}
}

func parseRSAPublicKey(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := pub.(*rsa.PublicKey); ok {
			return key, nil
		}
		return nil, fmt.Errorf("not an RSA key")
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}
