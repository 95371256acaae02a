package payment

import (
	"strconv"
	"strings"
)

// Customer identifies the payer.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// LineItem is one purchased product. Price is per unit in minor units.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// URLs are the endpoints a provider sends the payer or its callbacks to.
type URLs struct {
	Return   string `json:"return_url"`
	Cancel   string `json:"cancel_url,omitempty"`
	Callback string `json:"callback_url"`
}

// Settings are free-form per-payable options understood by drivers.
type Settings map[string]string

// Setting keys read by the built-in drivers.
const (
	SettingMaxItems       = "payment_item_max"
	SettingLanguage       = "language"
	SettingBrandName      = "brand_name"
	SettingManualMessage  = "manual_proof_message"
	SettingBankInfo       = "bank_account_info"
	SettingChargeCustomer = "bill_charge_to_customer"
	SettingExpiryDays     = "bill_expiry_days"
	SettingStripeMode     = "stripe_mode"
)

// Get returns the value for key or def when unset.
func (s Settings) Get(key, def string) string {
	if v, ok := s[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Int returns the integer value for key or def when unset or malformed.
func (s Settings) Int(key string, def int) int {
	v, ok := s[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Payable is a persisted intent-to-pay as the drivers see it.
// Amount is in minor units (cents).
type Payable struct {
	ID            uint       `json:"id"`
	Reference     string     `json:"reference"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Description   string     `json:"description"`
	Customer      Customer   `json:"customer"`
	Items         []LineItem `json:"items"`
	URLs          URLs       `json:"urls"`
	Settings      Settings   `json:"settings,omitempty"`
	Status        string     `json:"status"`
	Gateway       string     `json:"gateway,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	GatewayRef    string     `json:"gateway_ref,omitempty"`
}

// CancelURL falls back to the return URL when no explicit cancel URL is set.
func (p *Payable) CancelURL() string {
	if p.URLs.Cancel != "" {
		return p.URLs.Cancel
	}
	return p.URLs.Return
}

// CurrencyOr returns the payable currency upper-cased, or def when empty.
func (p *Payable) CurrencyOr(def string) string {
	if p.Currency == "" {
		return strings.ToUpper(def)
	}
	return strings.ToUpper(p.Currency)
}
