package payment

import (
	"context"
	"time"
)

// GatewayType tells the callback pipeline how a provider confirms payments.
type GatewayType string

const (
	// TypeWebhook providers push the outcome in a server-to-server call.
	// A browser return (GET) is only a redirect, never proof of payment.
	TypeWebhook GatewayType = "webhook"
	// TypeAPI providers are verified by calling back into their API.
	TypeAPI GatewayType = "api"
	// TypeManual payables are settled by an administrator decision.
	TypeManual GatewayType = "manual"
)

// VerifiesOnReturn reports whether a browser return (GET) should run verification.
func (t GatewayType) VerifiesOnReturn() bool {
	return t != TypeWebhook
}

// InitiationKind discriminates InitiationResult.
type InitiationKind string

const (
	InitiationRedirect     InitiationKind = "redirect"
	InitiationClientSecret InitiationKind = "client_secret"
	InitiationInstructions InitiationKind = "instructions"
	InitiationError        InitiationKind = "error"
)

// InitiationResult is what a driver hands back after starting a payment.
// Only the fields matching Type are meaningful.
type InitiationResult struct {
	Type         InitiationKind `json:"type"`
	URL          string         `json:"url,omitempty"`
	ClientSecret string         `json:"client_secret,omitempty"`
	Message      string         `json:"message,omitempty"`
	BankInfo     string         `json:"bank_info,omitempty"`
	Reference    string         `json:"reference,omitempty"`
	Amount       int64          `json:"amount,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	GatewayRef   string         `json:"gateway_ref,omitempty"`
	// Request is the provider payload that was sent, kept for diagnostics.
	Request any `json:"-"`
}

// OK reports whether the initiation produced something the payer can act on.
func (r InitiationResult) OK() bool {
	return r.Type != InitiationError
}

func initiationError(msg string) InitiationResult {
	return InitiationResult{Type: InitiationError, Message: msg}
}

// VerificationResult is a driver's verdict on a callback payload.
type VerificationResult struct {
	Success       bool           `json:"success"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

func verified(txnID string, meta map[string]any) VerificationResult {
	return VerificationResult{Success: true, TransactionID: txnID, Meta: meta}
}

func rejected(msg string, meta map[string]any) VerificationResult {
	return VerificationResult{Error: msg, Meta: meta}
}

// transportFailure marks a failed verification caused by the provider being unreachable.
func transportFailure(msg string, err error) VerificationResult {
	return VerificationResult{
		Error: msg,
		Meta:  map[string]any{MetaTransportError: err.Error()},
	}
}

// MetaTransportError is set on results whose failure came from the network, not the provider.
const MetaTransportError = "transport_error"

// RefundResult is the outcome of a refund request.
type RefundResult struct {
	Success  bool           `json:"success"`
	RefundID string         `json:"refund_id,omitempty"`
	Error    string         `json:"error,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// StatusCheck is the answer to an out-of-band status probe.
type StatusCheck struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func unknownStatus(msg string) StatusCheck {
	return StatusCheck{Status: StatusUnknown, Message: msg}
}

// Gateway is implemented by every payment provider driver.
//
// Drivers never return Go errors for provider-side failures; those are
// reported inside the result values so callers can persist and display them.
type Gateway interface {
	Name() string
	Type() GatewayType
	SupportsWebhooks() bool
	SupportsRefunds() bool

	Initiate(ctx context.Context, p *Payable) InitiationResult
	Verify(ctx context.Context, p *Payable, payload map[string]any) VerificationResult

	// VerifySignature authenticates an inbound callback. Drivers without a
	// signing scheme, or without a configured secret, accept everything.
	VerifySignature(r *CallbackRequest) bool

	// ExtractReference returns the payable reference carried by a callback,
	// or "" when none can be found.
	ExtractReference(ctx context.Context, r *CallbackRequest) string

	Refund(ctx context.Context, transactionID string, amount *int64) RefundResult
	CheckStatus(ctx context.Context, p *Payable) StatusCheck
}

// DriverConfig holds the per-driver settings loaded from configuration.
type DriverConfig struct {
	Enabled       bool
	Sandbox       bool
	BaseURL       string
	SecretKey     string
	PublicKey     string
	BrandID       string
	CategoryCode  string
	ClientID      string
	ClientSecret  string
	AccessToken   string
	WebhookSecret string
	Currency      string
	Language      string
	BrandName     string
	MaxItems      int
	Timeout       time.Duration
}
