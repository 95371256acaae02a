package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paybridge/internal/models"
	"paybridge/internal/payment"
	"paybridge/internal/pkg/utils"
)

// PaymentStore is the persistence the admin API needs.
type PaymentStore interface {
	payment.Store
	Create(ctx context.Context, m *models.Payment) error
	Get(ctx context.Context, reference string) (*models.Payment, error)
	FindAll(ctx context.Context, limit, page int, query, status string) ([]models.Payment, int64, error)
	FindByCustomerEmail(ctx context.Context, email string, limit int) ([]models.Payment, error)
}

// PaymentHandler serves the token-protected payment API.
type PaymentHandler struct {
	store      PaymentStore
	registry   *payment.Registry
	dispatcher *payment.Dispatcher
	baseURL    string
	portal     bool
	logger     *zap.Logger
}

func NewPaymentHandler(store PaymentStore, registry *payment.Registry, dispatcher *payment.Dispatcher, baseURL string, portal bool, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		baseURL:    strings.TrimRight(baseURL, "/"),
		portal:     portal,
		logger:     logger,
	}
}

// Create stores a new pending payment and starts it at its gateway.
// POST /api/payments
func (h *PaymentHandler) Create(c echo.Context) error {
	var req models.CreatePaymentRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()

	driver := strings.ToLower(req.Gateway)
	if driver == "" {
		driver = h.registry.Default()
	}
	if _, err := h.registry.Driver(driver); err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	p := h.payableFromRequest(&req, driver)
	row, err := models.NewPayment(p)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid payment data")
	}
	if err := h.store.Create(ctx, row); err != nil {
		h.logger.Error("Failed to create payment", zap.String("reference", p.Reference), zap.Error(err))
		return errorResponse(c, http.StatusConflict, "Could not create payment")
	}
	p.ID = row.ID

	result, err := h.registry.Initiate(ctx, driver, p)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err.Error())
	}
	if !result.OK() {
		h.logger.Warn("Payment initiation failed", zap.String("reference", p.Reference), zap.String("driver", driver), zap.String("message", result.Message))
		return c.JSON(http.StatusBadGateway, models.APIResponse{
			Status: false,
			Msg:    result.Message,
			Obj:    map[string]interface{}{"reference": p.Reference, "initiation": result},
		})
	}

	return c.JSON(http.StatusCreated, models.APIResponse{
		Status: true,
		Msg:    "Payment created",
		Obj: map[string]interface{}{
			"reference":  p.Reference,
			"gateway":    driver,
			"initiation": result,
		},
	})
}

func (h *PaymentHandler) payableFromRequest(req *models.CreatePaymentRequest, driver string) *payment.Payable {
	reference := req.Reference
	if reference == "" {
		reference = utils.GenerateReference()
	}
	items := make([]payment.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, payment.LineItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price})
	}
	urls := payment.URLs{Return: req.ReturnURL, Cancel: req.CancelURL, Callback: req.CallbackURL}
	webhook := h.baseURL + "/payment/webhook/" + driver
	if urls.Return == "" {
		urls.Return = webhook
	}
	if urls.Callback == "" {
		urls.Callback = webhook
	}
	if urls.Cancel == "" {
		if h.portal {
			urls.Cancel = h.baseURL + "/payment/check-status"
		} else {
			urls.Cancel = h.baseURL + "/payment/status/" + reference
		}
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "MYR"
	}
	return &payment.Payable{
		Reference:   reference,
		Amount:      req.Amount,
		Currency:    currency,
		Description: req.Description,
		Customer:    payment.Customer{Name: req.CustomerName, Email: req.CustomerEmail, Phone: req.CustomerPhone},
		Items:       items,
		URLs:        urls,
		Settings:    payment.Settings(req.Settings),
		Status:      payment.StatusPending,
		Gateway:     driver,
	}
}

// Get returns one payment.
// GET /api/payments/:reference
func (h *PaymentHandler) Get(c echo.Context) error {
	row, err := h.store.Get(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return successResponse(c, "Successful", paymentView(row))
}

// List returns payments with pagination. An email filter returns the
// customer's most recent payments on a single page.
// GET /api/payments
func (h *PaymentHandler) List(c echo.Context) error {
	var req models.PaymentsListRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid query")
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 1000 {
		req.Limit = 1000
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	var (
		rows  []models.Payment
		total int64
		err   error
	)
	if email := strings.TrimSpace(req.Email); email != "" {
		req.Page = 1
		rows, err = h.store.FindByCustomerEmail(c.Request().Context(), email, req.Limit)
		total = int64(len(rows))
	} else {
		rows, total, err = h.store.FindAll(c.Request().Context(), req.Limit, req.Page, req.Q, req.Status)
	}
	if err != nil {
		h.logger.Error("Failed to list payments", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve payments")
	}
	items := make([]map[string]interface{}, 0, len(rows))
	for i := range rows {
		items = append(items, paymentView(&rows[i]))
	}
	return successResponse(c, "Successful", paginatedResponse(items, total, req.Page, req.Limit))
}

// Approve accepts the proof of a manual payment.
// POST /api/payments/:reference/approve
func (h *PaymentHandler) Approve(c echo.Context) error {
	return h.decideManual(c, map[string]any{"approved": true})
}

// Reject declines the proof of a manual payment.
// POST /api/payments/:reference/reject
func (h *PaymentHandler) Reject(c echo.Context) error {
	var req models.RejectPaymentRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	payload := map[string]any{"approved": false}
	if req.Reason != "" {
		payload["rejection_reason"] = req.Reason
	}
	return h.decideManual(c, payload)
}

func (h *PaymentHandler) decideManual(c echo.Context, payload map[string]any) error {
	ctx := c.Request().Context()
	p, err := h.store.FindByReference(ctx, c.Param("reference"))
	if err != nil {
		return h.lookupError(c, err)
	}
	if p.Gateway != payment.ManualProofDriver {
		return errorResponse(c, http.StatusBadRequest, "Payment is not a manual proof payment")
	}
	if payment.IsSettled(p.Status) {
		return errorResponse(c, http.StatusConflict, "Payment already settled")
	}
	drv, err := h.registry.Driver(payment.ManualProofDriver)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err.Error())
	}

	result, err := h.dispatcher.Reconcile(ctx, drv, p, payload)
	if err != nil {
		h.logger.Error("Manual decision failed", zap.String("reference", p.Reference), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to update payment")
	}
	if result.Success {
		return successResponse(c, "Payment approved", result)
	}
	return successResponse(c, "Payment rejected", result)
}

// Refund refunds a paid payment at its gateway.
// POST /api/payments/:reference/refund
func (h *PaymentHandler) Refund(c echo.Context) error {
	var req models.RefundPaymentRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.store.FindByReference(ctx, c.Param("reference"))
	if err != nil {
		return h.lookupError(c, err)
	}
	if !payment.IsSuccess(p.Status) {
		return errorResponse(c, http.StatusConflict, "Only paid payments can be refunded")
	}
	if req.Amount != nil && *req.Amount > p.Amount {
		return errorResponse(c, http.StatusBadRequest, "Refund amount exceeds payment amount")
	}

	result, err := h.registry.Refund(ctx, p.Gateway, p.TransactionID, req.Amount)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err.Error())
	}
	if !result.Success {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Status: false, Msg: result.Error, Obj: result})
	}

	full := req.Amount == nil || *req.Amount == p.Amount
	if full {
		if _, err := h.store.TransitionStatus(ctx, payment.Transition{
			Reference: p.Reference,
			To:        payment.StatusRefunded,
			Guard:     payment.GuardSucceeded,
		}); err != nil {
			h.logger.Error("Refund recorded at gateway but not locally", zap.String("reference", p.Reference), zap.Error(err))
			return errorResponse(c, http.StatusInternalServerError, "Refund succeeded but the payment could not be updated")
		}
	}
	return successResponse(c, "Refund successful", result)
}

// Drivers lists registered gateways.
// GET /api/drivers
func (h *PaymentHandler) Drivers(c echo.Context) error {
	return successResponse(c, "Successful", map[string]interface{}{
		"default": h.registry.Default(),
		"drivers": h.registry.Available(),
	})
}

func (h *PaymentHandler) lookupError(c echo.Context, err error) error {
	if errors.Is(err, payment.ErrPayableNotFound) {
		return errorResponse(c, http.StatusNotFound, "Payment not found")
	}
	h.logger.Error("Payment lookup failed", zap.Error(err))
	return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve payment")
}

func paymentView(m *models.Payment) map[string]interface{} {
	view := map[string]interface{}{
		"id":             m.ID,
		"reference":      m.Reference,
		"status":         m.Status,
		"status_message": payment.StatusMessage(m.Status),
		"gateway":        m.Gateway,
		"transaction_id": m.TransactionID,
		"gateway_ref":    m.GatewayRef,
		"amount":         m.Amount,
		"amount_display": utils.FormatAmount(m.Amount, m.Currency),
		"currency":       m.Currency,
		"description":    m.Description,
		"customer_email": m.CustomerEmail,
		"created_at":     m.CreatedAt,
		"updated_at":     m.UpdatedAt,
	}
	if reason := m.FailureReason(); reason != "" {
		view["failure_reason"] = reason
	}
	return view
}
