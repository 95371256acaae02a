package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"paybridge/internal/pkg/httpclient"
)

const (
	toyyibName       = "toyyibpay"
	toyyibLiveURL    = "https://toyyibpay.com/"
	toyyibSandboxURL = "https://dev.toyyibpay.com/"
	toyyibDefaultMax = 5
)

// ToyyibPay creates bills on toyyibPay. Status codes: 1 paid, 2 pending, 3 failed.
type ToyyibPay struct {
	cfg    DriverConfig
	base   string
	client *httpclient.Client
	logger *zap.Logger
}

func NewToyyibPay(cfg DriverConfig, logger *zap.Logger) (*ToyyibPay, error) {
	if cfg.SecretKey == "" || cfg.CategoryCode == "" {
		return nil, fmt.Errorf("%w: toyyibpay requires secret key and category code", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = toyyibLiveURL
		if cfg.Sandbox {
			base = toyyibSandboxURL
		}
	}
	base = strings.TrimRight(base, "/") + "/"
	return &ToyyibPay{
		cfg:    cfg,
		base:   base,
		client: httpclient.New().WithTimeout(cfg.Timeout).WithBaseURL(base),
		logger: logger.With(zap.String("driver", toyyibName)),
	}, nil
}

func (t *ToyyibPay) Name() string           { return toyyibName }
func (t *ToyyibPay) Type() GatewayType      { return TypeWebhook }
func (t *ToyyibPay) SupportsWebhooks() bool { return true }
func (t *ToyyibPay) SupportsRefunds() bool  { return false }

func (t *ToyyibPay) bill(p *Payable) map[string]string {
	name := p.Reference
	if n := len(p.Items); n > maxItems(p, t.cfg, toyyibDefaultMax) {
		name = aggregatedItemName(n)
	}
	description := p.Description
	if description == "" {
		description = name
	}
	return map[string]string{
		"userSecretKey":           t.cfg.SecretKey,
		"categoryCode":            t.cfg.CategoryCode,
		"billName":                name,
		"billDescription":         description,
		"billPriceSetting":        "0",
		"billPayorInfo":           "1",
		"billAmount":              strconv.FormatInt(p.Amount, 10),
		"billReturnUrl":           withReference(p.URLs.Return, p.Reference),
		"billCallbackUrl":         p.URLs.Callback,
		"billExternalReferenceNo": p.Reference,
		"billTo":                  p.Customer.Name,
		"billEmail":               p.Customer.Email,
		"billPhone":               p.Customer.Phone,
		"billSplitPayment":        "0",
		"billSplitPaymentArgs":    "",
		"billPaymentChannel":      "0",
		"billContentEmail":        description,
		"billChargeToCustomer":    p.Settings.Get(SettingChargeCustomer, "1"),
		"billExpiryDays":          p.Settings.Get(SettingExpiryDays, "3"),
	}
}

func (t *ToyyibPay) Initiate(ctx context.Context, p *Payable) InitiationResult {
	form := t.bill(p)
	resp, err := t.client.PostForm(ctx, "index.php/api/createBill", form)
	if err != nil {
		t.logger.Warn("create bill failed", zap.String("reference", p.Reference), zap.Error(err))
		return initiationError("ToyyibPay API Error: " + err.Error())
	}

	var bills []struct {
		BillCode string `json:"BillCode"`
	}
	if !resp.OK() || json.Unmarshal(resp.Body, &bills) != nil || len(bills) == 0 || bills[0].BillCode == "" {
		return initiationError("ToyyibPay API Error: " + resp.String())
	}
	code := bills[0].BillCode
	return InitiationResult{Type: InitiationRedirect, URL: t.base + code, GatewayRef: code, Request: form}
}

func (t *ToyyibPay) Verify(_ context.Context, _ *Payable, payload map[string]any) VerificationResult {
	raw := firstString(payload, "status", "status_id")
	status, _ := strconv.Atoi(strings.TrimSpace(raw))
	if status == 1 {
		return verified(firstString(payload, "transaction_id", "refno", "billcode"), copyMap(payload))
	}

	msg := firstString(payload, "reason", "msg")
	if msg == "" {
		msg = "Payment not successful"
	}
	return rejected(msg, copyMap(payload))
}

// VerifySignature accepts everything: toyyibPay does not sign callbacks.
func (t *ToyyibPay) VerifySignature(*CallbackRequest) bool { return true }

func (t *ToyyibPay) ExtractReference(_ context.Context, r *CallbackRequest) string {
	for _, key := range []string{"order_id", "reference", "billcode", "refno"} {
		if v := r.Input(key); v != "" {
			return v
		}
	}
	return ""
}

func (t *ToyyibPay) Refund(context.Context, string, *int64) RefundResult {
	return RefundResult{Error: "ToyyibPay does not support API refunds"}
}

func (t *ToyyibPay) CheckStatus(ctx context.Context, p *Payable) StatusCheck {
	if p.GatewayRef == "" {
		return unknownStatus("No ToyyibPay bill recorded for this payment.")
	}
	resp, err := t.client.PostForm(ctx, "index.php/api/getBillTransactions", map[string]string{
		"billCode": p.GatewayRef,
	})
	if err != nil || !resp.OK() {
		return unknownStatus("Unable to reach ToyyibPay.")
	}

	var txns []struct {
		Status    string `json:"billpaymentStatus"`
		InvoiceNo string `json:"billpaymentInvoiceNo"`
	}
	if json.Unmarshal(resp.Body, &txns) != nil || len(txns) == 0 {
		return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
	}
	for _, tx := range txns {
		if tx.Status == "1" {
			return StatusCheck{Status: StatusPaid, Message: StatusMessage(StatusPaid), TransactionID: tx.InvoiceNo}
		}
	}
	if txns[len(txns)-1].Status == "3" {
		return StatusCheck{Status: StatusFailed, Message: StatusMessage(StatusFailed)}
	}
	return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
}
