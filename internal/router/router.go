package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paybridge/internal/handler"
	"paybridge/internal/handler/api"
	"paybridge/internal/middleware"
	"paybridge/internal/payment"
	"paybridge/internal/repository"
)

// Deps bundles everything the HTTP surface is wired to.
type Deps struct {
	DB         *gorm.DB
	Payments   *repository.PaymentRepository
	Registry   *payment.Registry
	Dispatcher *payment.Dispatcher
	Deduper    middleware.CallbackDeduper
	Logger     *zap.Logger
	APIKey     string
	BaseURL    string
	Portal     bool
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, d Deps) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(middleware.CORS())
	e.Validator = api.NewRequestValidator()

	paymentHandler := api.NewPaymentHandler(d.Payments, d.Registry, d.Dispatcher, d.BaseURL, d.Portal, d.Logger)
	callbackHandler := handler.NewPaymentCallbackHandler(d.Dispatcher, d.Registry, d.Payments, d.Portal, d.Logger)

	// API group with auth
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(d.APIKey))
	apiGroup.POST("/payments", paymentHandler.Create)
	apiGroup.GET("/payments", paymentHandler.List)
	apiGroup.GET("/payments/:reference", paymentHandler.Get)
	apiGroup.POST("/payments/:reference/approve", paymentHandler.Approve)
	apiGroup.POST("/payments/:reference/reject", paymentHandler.Reject)
	apiGroup.POST("/payments/:reference/refund", paymentHandler.Refund)
	apiGroup.GET("/drivers", paymentHandler.Drivers)

	// Provider callbacks: browser returns arrive as GET, server notifications as POST.
	paymentGroup := e.Group("/payment")
	webhook := paymentGroup.Group("/webhook")
	if d.Deduper != nil {
		webhook.Use(middleware.CallbackDedup(d.Deduper, d.Logger))
	}
	webhook.GET("/:driver", callbackHandler.Callback)
	webhook.POST("/:driver", callbackHandler.Callback)

	paymentGroup.GET("/status/:reference", callbackHandler.Status)
	paymentGroup.GET("/check-status", callbackHandler.Portal)
	paymentGroup.GET("/check-status/search", callbackHandler.Search)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		if d.DB != nil {
			sqlDB, err := d.DB.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request().Context())
			}
			if err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
