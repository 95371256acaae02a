package payment

import (
	"context"
	"time"
)

const manualName = "manual_proof"

// ManualProofDriver is the registry name of the manual proof driver.
const ManualProofDriver = manualName

const (
	defaultManualMessage = "Please make a bank transfer and upload your payment receipt."
	defaultBankInfo      = "Contact administrator for bank details."
)

// ManualProof hands the payer bank transfer instructions. An administrator
// later approves or rejects the uploaded proof.
type ManualProof struct {
	cfg DriverConfig
	now func() time.Time
}

func NewManualProof(cfg DriverConfig) *ManualProof {
	return &ManualProof{cfg: cfg, now: time.Now}
}

func (m *ManualProof) Name() string           { return manualName }
func (m *ManualProof) Type() GatewayType      { return TypeManual }
func (m *ManualProof) SupportsWebhooks() bool { return false }
func (m *ManualProof) SupportsRefunds() bool  { return false }

func (m *ManualProof) Initiate(_ context.Context, p *Payable) InitiationResult {
	return InitiationResult{
		Type:      InitiationInstructions,
		Message:   p.Settings.Get(SettingManualMessage, defaultManualMessage),
		BankInfo:  p.Settings.Get(SettingBankInfo, defaultBankInfo),
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.CurrencyOr(m.cfg.Currency),
	}
}

// Verify reads the administrator decision from payload["approved"].
func (m *ManualProof) Verify(_ context.Context, p *Payable, payload map[string]any) VerificationResult {
	if truthy(payload["approved"]) {
		meta := copyMap(payload)
		meta["verified_at"] = m.now().UTC().Format(time.RFC3339)
		return verified("manual-"+p.Reference, meta)
	}
	msg := stringAt(payload, "rejection_reason")
	if msg == "" {
		msg = "Payment proof rejected"
	}
	return rejected(msg, copyMap(payload))
}

func (m *ManualProof) VerifySignature(*CallbackRequest) bool { return true }

func (m *ManualProof) ExtractReference(_ context.Context, r *CallbackRequest) string {
	return r.Input("reference")
}

func (m *ManualProof) Refund(context.Context, string, *int64) RefundResult {
	return RefundResult{Error: "Manual proof payments must be refunded manually"}
}

func (m *ManualProof) CheckStatus(context.Context, *Payable) StatusCheck {
	return StatusCheck{Status: StatusPending, Message: "Awaiting manual verification by administrator."}
}
