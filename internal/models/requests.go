package models

// APIResponse is the standard response envelope of the admin API.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// PaginatedResponse wraps list results with pagination info.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// --- Payment API Request Payloads ---

type LineItemRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Quantity int    `json:"quantity" validate:"gte=0"`
	Price    int64  `json:"price" validate:"gte=0"`
}

type CreatePaymentRequest struct {
	Reference     string            `json:"reference,omitempty" validate:"omitempty,max=191"`
	Gateway       string            `json:"gateway,omitempty" validate:"omitempty,max=64"`
	Amount        int64             `json:"amount" validate:"required,gt=0"`
	Currency      string            `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Description   string            `json:"description,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty" validate:"omitempty,max=191"`
	CustomerEmail string            `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerPhone string            `json:"customer_phone,omitempty" validate:"omitempty,max=64"`
	Items         []LineItemRequest `json:"items,omitempty" validate:"omitempty,dive"`
	ReturnURL     string            `json:"return_url,omitempty" validate:"omitempty,url"`
	CancelURL     string            `json:"cancel_url,omitempty" validate:"omitempty,url"`
	CallbackURL   string            `json:"callback_url,omitempty" validate:"omitempty,url"`
	Settings      map[string]string `json:"settings,omitempty"`
}

type PaymentsListRequest struct {
	Limit  int    `query:"limit"`
	Page   int    `query:"page"`
	Q      string `query:"q"`
	Status string `query:"status"`
	Email  string `query:"email"`
}

type RejectPaymentRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

type RefundPaymentRequest struct {
	Amount *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
}
