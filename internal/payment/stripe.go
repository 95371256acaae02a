package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"paybridge/internal/pkg/httpclient"
)

const (
	stripeName        = "stripe"
	stripeBaseURL     = "https://api.stripe.com/v1"
	stripeTolerance   = 5 * time.Minute
	stripeSessionHold = "{CHECKOUT_SESSION_ID}"
)

// Stripe drives Checkout Sessions, or PaymentIntents when the payable asks
// for an embedded card form.
type Stripe struct {
	cfg    DriverConfig
	client *httpclient.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewStripe(cfg DriverConfig, logger *zap.Logger) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe requires a secret key", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = stripeBaseURL
	}
	return &Stripe{
		cfg: cfg,
		client: httpclient.New().
			WithTimeout(cfg.Timeout).
			WithBaseURL(strings.TrimRight(base, "/")).
			WithBasicAuth(cfg.SecretKey, ""),
		logger: logger.With(zap.String("driver", stripeName)),
		now:    time.Now,
	}, nil
}

func (s *Stripe) Name() string           { return stripeName }
func (s *Stripe) Type() GatewayType      { return TypeAPI }
func (s *Stripe) SupportsWebhooks() bool { return true }
func (s *Stripe) SupportsRefunds() bool  { return true }

func (s *Stripe) sessionForm(p *Payable) map[string]string {
	currency := strings.ToLower(p.CurrencyOr(s.cfg.Currency))
	form := map[string]string{
		"mode":        "payment",
		"success_url": appendQuery(withReference(p.URLs.Return, p.Reference), "session_id", stripeSessionHold),
		"cancel_url":  withReference(p.CancelURL(), p.Reference),
	}
	form["client_reference_id"] = p.Reference
	form["metadata[reference]"] = p.Reference
	form["payment_intent_data[metadata][reference]"] = p.Reference
	if p.Customer.Email != "" {
		form["customer_email"] = p.Customer.Email
	}
	for i, it := range lineItems(p, maxItems(p, s.cfg, DefaultMaxItems)) {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form[prefix+"[price_data][currency]"] = currency
		form[prefix+"[price_data][product_data][name]"] = it.Name
		form[prefix+"[price_data][unit_amount]"] = strconv.FormatInt(it.Price, 10)
		form[prefix+"[quantity]"] = strconv.Itoa(it.Quantity)
	}
	return form
}

func (s *Stripe) Initiate(ctx context.Context, p *Payable) InitiationResult {
	if p.Settings.Get(SettingStripeMode, "") == "elements" {
		return s.initiateIntent(ctx, p)
	}

	form := s.sessionForm(p)
	resp, err := s.client.PostForm(ctx, "/checkout/sessions", form)
	if err != nil {
		s.logger.Warn("create checkout session failed", zap.String("reference", p.Reference), zap.Error(err))
		return initiationError("Failed to create checkout session")
	}
	data := decodeObject(resp.Body)
	if !resp.OK() || stringAt(data, "url") == "" {
		msg := stringAt(data, "error.message")
		if msg == "" {
			msg = "Failed to create checkout session"
		}
		return initiationError(msg)
	}
	return InitiationResult{
		Type:       InitiationRedirect,
		URL:        stringAt(data, "url"),
		GatewayRef: stringAt(data, "id"),
		Request:    form,
	}
}

func (s *Stripe) initiateIntent(ctx context.Context, p *Payable) InitiationResult {
	form := map[string]string{
		"amount":              strconv.FormatInt(p.Amount, 10),
		"currency":            strings.ToLower(p.CurrencyOr(s.cfg.Currency)),
		"description":         p.Description,
		"metadata[reference]": p.Reference,
	}
	if p.Customer.Email != "" {
		form["receipt_email"] = p.Customer.Email
	}
	resp, err := s.client.PostForm(ctx, "/payment_intents", form)
	if err != nil {
		return initiationError("Failed to create payment intent")
	}
	data := decodeObject(resp.Body)
	if !resp.OK() || stringAt(data, "client_secret") == "" {
		msg := stringAt(data, "error.message")
		if msg == "" {
			msg = "Failed to create payment intent"
		}
		return initiationError(msg)
	}
	return InitiationResult{
		Type:         InitiationClientSecret,
		ClientSecret: stringAt(data, "client_secret"),
		GatewayRef:   stringAt(data, "id"),
		Request:      form,
	}
}

func (s *Stripe) fetchSession(ctx context.Context, id string) (map[string]any, error) {
	resp, err := s.client.Get(ctx, "/checkout/sessions/"+id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayTransport, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%s", resp.String())
	}
	return decodeObject(resp.Body), nil
}

// Verify handles both the browser return (session_id, verified by fetching
// the session) and webhook events.
func (s *Stripe) Verify(ctx context.Context, _ *Payable, payload map[string]any) VerificationResult {
	eventType := stringAt(payload, "type")
	if sessionID := stringAt(payload, "session_id"); sessionID != "" && eventType == "" {
		session, err := s.fetchSession(ctx, sessionID)
		if err != nil {
			msg := "Failed to retrieve session from Stripe: " + err.Error()
			if errors.Is(err, ErrGatewayTransport) {
				return transportFailure(msg, err)
			}
			return rejected(msg, nil)
		}
		status := stringAt(session, "payment_status")
		if status == "paid" || status == "no_payment_required" {
			return verified(firstString(session, "payment_intent", "id"), session)
		}
		return rejected("Payment not completed - status: "+status, session)
	}

	object, _ := lookup(payload, "data.object")
	obj, _ := object.(map[string]any)
	switch eventType {
	case "checkout.session.completed":
		status := stringAt(obj, "payment_status")
		if status == "paid" || status == "no_payment_required" {
			return verified(firstString(obj, "payment_intent", "id"), copyMap(payload))
		}
		return rejected("Payment pending - status: "+status, copyMap(payload))
	case "payment_intent.succeeded":
		return verified(stringAt(obj, "id"), copyMap(payload))
	case "payment_intent.payment_failed":
		msg := stringAt(obj, "last_payment_error.message")
		if msg == "" {
			msg = "Payment failed"
		}
		return rejected(msg, copyMap(payload))
	default:
		return rejected("Unhandled event type: "+eventType, copyMap(payload))
	}
}

// VerifySignature checks the Stripe-Signature header: HMAC-SHA256 over
// "<t>.<body>" with the endpoint secret, within a five minute window.
func (s *Stripe) VerifySignature(r *CallbackRequest) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return false
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || len(sigs) == 0 {
		return false
	}
	if age := s.now().Sub(time.Unix(sec, 0)); age > stripeTolerance || age < -stripeTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(r.RawBody)
	expected := mac.Sum(nil)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err == nil && hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

func (s *Stripe) ExtractReference(ctx context.Context, r *CallbackRequest) string {
	if ref := r.QueryValue("reference"); ref != "" {
		return ref
	}
	if sessionID := r.Input("session_id"); sessionID != "" && !r.Has("type") {
		session, err := s.fetchSession(ctx, sessionID)
		if err != nil {
			s.logger.Warn("session lookup for reference failed", zap.String("session_id", sessionID), zap.Error(err))
			return ""
		}
		return firstString(session, "client_reference_id", "metadata.reference")
	}
	return firstString(r.Body, "data.object.client_reference_id", "data.object.metadata.reference")
}

func (s *Stripe) Refund(ctx context.Context, transactionID string, amount *int64) RefundResult {
	form := map[string]string{"payment_intent": transactionID}
	if amount != nil {
		form["amount"] = strconv.FormatInt(*amount, 10)
	}
	resp, err := s.client.PostForm(ctx, "/refunds", form)
	if err != nil {
		return RefundResult{Error: "Failed to reach Stripe", Meta: map[string]any{MetaTransportError: err.Error()}}
	}
	data := decodeObject(resp.Body)
	if !resp.OK() {
		msg := stringAt(data, "error.message")
		if msg == "" {
			msg = "Refund failed"
		}
		return RefundResult{Error: msg, Meta: data}
	}
	return RefundResult{Success: true, RefundID: stringAt(data, "id"), Meta: data}
}

func (s *Stripe) CheckStatus(ctx context.Context, p *Payable) StatusCheck {
	if p.GatewayRef == "" || !strings.HasPrefix(p.GatewayRef, "cs_") {
		return unknownStatus("No Stripe checkout session recorded for this payment.")
	}
	session, err := s.fetchSession(ctx, p.GatewayRef)
	if err != nil {
		return unknownStatus("Unable to reach Stripe.")
	}
	switch {
	case stringAt(session, "payment_status") == "paid":
		return StatusCheck{
			Status:        StatusPaid,
			Message:       StatusMessage(StatusPaid),
			TransactionID: firstString(session, "payment_intent", "id"),
		}
	case stringAt(session, "status") == "expired":
		return StatusCheck{Status: StatusExpired, Message: StatusMessage(StatusExpired)}
	default:
		return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
	}
}
