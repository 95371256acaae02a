package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"paybridge/internal/payment"
)

// Payment maps to the `payments` table.
type Payment struct {
	ID            uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Reference     string         `gorm:"column:reference;size:191;uniqueIndex" json:"reference"`
	Status        string         `gorm:"column:status;size:32;index;default:pending" json:"status"`
	Gateway       string         `gorm:"column:gateway;size:64;index" json:"gateway"`
	TransactionID string         `gorm:"column:transaction_id;size:191;index" json:"transaction_id"`
	GatewayRef    string         `gorm:"column:gateway_ref;size:191" json:"gateway_ref"`
	Amount        int64          `gorm:"column:amount" json:"amount"`
	Currency      string         `gorm:"column:currency;size:3;default:MYR" json:"currency"`
	Description   string         `gorm:"column:description;type:text" json:"description"`
	CustomerName  string         `gorm:"column:customer_name;size:191" json:"customer_name"`
	CustomerEmail string         `gorm:"column:customer_email;size:191;index" json:"customer_email"`
	CustomerPhone string         `gorm:"column:customer_phone;size:64" json:"customer_phone"`
	Items         datatypes.JSON `gorm:"column:items" json:"items"`
	URLs          datatypes.JSON `gorm:"column:urls" json:"urls"`
	Settings      datatypes.JSON `gorm:"column:settings" json:"settings"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}

// NewPayment builds a row from a payable.
func NewPayment(p *payment.Payable) (*Payment, error) {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return nil, err
	}
	urls, err := json.Marshal(p.URLs)
	if err != nil {
		return nil, err
	}
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, err
	}
	status := p.Status
	if status == "" {
		status = payment.StatusPending
	}
	return &Payment{
		ID:            p.ID,
		Reference:     p.Reference,
		Status:        status,
		Gateway:       p.Gateway,
		TransactionID: p.TransactionID,
		GatewayRef:    p.GatewayRef,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   p.Description,
		CustomerName:  p.Customer.Name,
		CustomerEmail: p.Customer.Email,
		CustomerPhone: p.Customer.Phone,
		Items:         datatypes.JSON(items),
		URLs:          datatypes.JSON(urls),
		Settings:      datatypes.JSON(settings),
		Metadata:      datatypes.JSON("{}"),
	}, nil
}

// Payable converts the row into the form drivers consume.
func (m *Payment) Payable() *payment.Payable {
	p := &payment.Payable{
		ID:            m.ID,
		Reference:     m.Reference,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Description:   m.Description,
		Status:        m.Status,
		Gateway:       m.Gateway,
		TransactionID: m.TransactionID,
		GatewayRef:    m.GatewayRef,
		Customer: payment.Customer{
			Name:  m.CustomerName,
			Email: m.CustomerEmail,
			Phone: m.CustomerPhone,
		},
	}
	if len(m.Items) > 0 {
		_ = json.Unmarshal(m.Items, &p.Items)
	}
	if len(m.URLs) > 0 {
		_ = json.Unmarshal(m.URLs, &p.URLs)
	}
	if len(m.Settings) > 0 {
		_ = json.Unmarshal(m.Settings, &p.Settings)
	}
	return p
}

// Meta decodes the metadata column.
func (m *Payment) Meta() map[string]interface{} {
	out := map[string]interface{}{}
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &out)
	}
	return out
}

// FailureReason is the last recorded verification error, if any.
func (m *Payment) FailureReason() string {
	reason, _ := m.Meta()[MetaFailureReason].(string)
	return reason
}

// MetaFailureReason is the metadata key holding the last verification error.
const MetaFailureReason = "failure_reason"
