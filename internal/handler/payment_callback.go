package handler

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paybridge/internal/models"
	"paybridge/internal/payment"
	"paybridge/internal/pkg/utils"
)

// Payments is the read side the status pages need.
type Payments interface {
	Get(ctx context.Context, reference string) (*models.Payment, error)
}

// PaymentCallbackHandler serves gateway callbacks and the payer-facing status pages.
type PaymentCallbackHandler struct {
	dispatcher    *payment.Dispatcher
	registry      *payment.Registry
	payments      Payments
	portalEnabled bool
	logger        *zap.Logger
}

// NewPaymentCallbackHandler creates a new payment callback handler.
func NewPaymentCallbackHandler(
	dispatcher *payment.Dispatcher,
	registry *payment.Registry,
	payments Payments,
	portalEnabled bool,
	logger *zap.Logger,
) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		dispatcher:    dispatcher,
		registry:      registry,
		payments:      payments,
		portalEnabled: portalEnabled,
		logger:        logger,
	}
}

// Callback handles GET returns and POST webhooks for /payment/webhook/:driver.
func (h *PaymentCallbackHandler) Callback(c echo.Context) error {
	driver := c.Param("driver")
	req, err := payment.ParseCallbackRequest(c.Request())
	if err != nil {
		h.logger.Warn("unreadable payment callback", zap.String("driver", driver), zap.Error(err))
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"message": "Invalid request body"})
	}

	h.logger.Info("payment callback received", zap.String("driver", driver), zap.String("method", req.Method))
	resp := h.dispatcher.Handle(c.Request().Context(), driver, req)

	if resp.Redirect != "" {
		return c.Redirect(http.StatusFound, resp.Redirect)
	}
	if resp.Success {
		return c.JSON(resp.StatusCode, map[string]interface{}{
			"success": true,
			"message": resp.Message,
		})
	}
	return c.JSON(resp.StatusCode, map[string]interface{}{"message": resp.Message})
}

// Status renders the status page of one payment. A pending payment is probed
// at its gateway first and settled when the probe is definitive.
func (h *PaymentCallbackHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	reference := c.Param("reference")

	row, err := h.payments.Get(ctx, reference)
	if err != nil {
		if errors.Is(err, payment.ErrPayableNotFound) {
			return h.render(c, http.StatusNotFound, statusTemplate, statusView{
				Title:   "Payment not found",
				Message: "We could not find a payment with this reference.",
				Portal:  h.portalURL(),
			})
		}
		h.logger.Error("status page lookup failed", zap.String("reference", reference), zap.Error(err))
		return c.String(http.StatusInternalServerError, "Server Error")
	}

	p := row.Payable()
	if payment.IsPending(p.Status) && p.Gateway != "" {
		h.probe(ctx, p)
	}

	view := statusView{
		Title:     "Payment " + p.Reference,
		Reference: p.Reference,
		Status:    p.Status,
		Class:     string(payment.Classify(p.Status)),
		Message:   payment.StatusMessage(p.Status),
		Notice:    c.QueryParam("message"),
		Amount:    utils.FormatAmount(p.Amount, p.Currency),
		Gateway:   p.Gateway,
		Updated:   utils.TimeAgo(row.UpdatedAt),
		Portal:    h.portalURL(),
	}
	if payment.IsFailed(p.Status) {
		view.Reason = row.FailureReason()
	}
	return h.render(c, http.StatusOK, statusTemplate, view)
}

func (h *PaymentCallbackHandler) probe(ctx context.Context, p *payment.Payable) {
	check, err := h.registry.CheckStatus(ctx, p.Gateway, p)
	if err != nil {
		h.logger.Warn("status probe skipped", zap.String("reference", p.Reference), zap.Error(err))
		return
	}
	if _, err := h.dispatcher.ApplyStatus(ctx, p.Gateway, p, check); err != nil {
		h.logger.Error("status probe update failed", zap.String("reference", p.Reference), zap.Error(err))
	}
}

// Portal renders the status lookup form.
func (h *PaymentCallbackHandler) Portal(c echo.Context) error {
	if !h.portalEnabled {
		return echo.ErrNotFound
	}
	return h.render(c, http.StatusOK, portalTemplate, portalView{
		Error:     c.QueryParam("error"),
		Reference: c.QueryParam("reference"),
	})
}

// Search redirects a portal lookup to the matching status page.
func (h *PaymentCallbackHandler) Search(c echo.Context) error {
	if !h.portalEnabled {
		return echo.ErrNotFound
	}
	reference := strings.TrimSpace(c.QueryParam("reference"))
	if reference == "" {
		return c.Redirect(http.StatusFound, h.portalURL()+"?error="+url.QueryEscape("Please enter a payment reference"))
	}
	if _, err := h.payments.Get(c.Request().Context(), reference); err != nil {
		if !errors.Is(err, payment.ErrPayableNotFound) {
			h.logger.Error("status search failed", zap.String("reference", reference), zap.Error(err))
		}
		q := url.Values{"error": {"Payment not found"}, "reference": {reference}}
		return c.Redirect(http.StatusFound, h.portalURL()+"?"+q.Encode())
	}
	return c.Redirect(http.StatusFound, "/payment/status/"+url.PathEscape(reference))
}

func (h *PaymentCallbackHandler) portalURL() string {
	if !h.portalEnabled {
		return ""
	}
	return "/payment/check-status"
}

func (h *PaymentCallbackHandler) render(c echo.Context, code int, tmpl *template.Template, data interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return tmpl.Execute(c.Response().Writer, data)
}
