package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paybridge/internal/middleware"
	"paybridge/internal/models"
	"paybridge/internal/payment"
	"paybridge/internal/repository"
)

func newServer(t *testing.T) (*echo.Echo, *repository.PaymentRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Payment{}))

	repo := repository.NewPaymentRepository(db)
	registry := payment.NewRegistry(payment.NewBus(zap.NewNop()), zap.NewNop())
	registry.Extend(payment.ManualProofDriver, func() (payment.Gateway, error) {
		return payment.NewManualProof(payment.DriverConfig{}), nil
	})
	registry.SetDefault(payment.ManualProofDriver)
	dispatcher := payment.NewDispatcher(registry, repo, payment.Redirects{StatusURL: "/payment/status/", PortalURL: "/payment/check-status"}, zap.NewNop())
	deduper, err := middleware.NewCallbackDeduper(nil, time.Minute)
	require.NoError(t, err)

	e := echo.New()
	Setup(e, Deps{
		DB:         db,
		Payments:   repo,
		Registry:   registry,
		Dispatcher: dispatcher,
		Deduper:    deduper,
		Logger:     zap.NewNop(),
		APIKey:     "secret",
		BaseURL:    "https://pay.example.com",
		Portal:     true,
	})
	return e, repo
}

func serve(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _ := newServer(t)

	rec := serve(e, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestAPIRequiresToken(t *testing.T) {
	e, _ := newServer(t)

	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/api/drivers", "", nil).Code)

	rec := serve(e, http.MethodGet, "/api/drivers", "", map[string]string{"Token": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), payment.ManualProofDriver)
}

func TestCreateAndFollowPayment(t *testing.T) {
	e, repo := newServer(t)
	auth := map[string]string{"Token": "secret"}

	rec := serve(e, http.MethodPost, "/api/payments", `{"amount":5000,"currency":"MYR","description":"Order 1"}`, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rows, total, err := repo.FindAll(context.Background(), 10, 1, "", "")
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	ref := rows[0].Reference

	rec = serve(e, http.MethodGet, "/payment/status/"+ref, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), payment.StatusMessage(payment.StatusPending))

	rec = serve(e, http.MethodPost, "/api/payments/"+ref+"/approve", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m, err := repo.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaid, m.Status)
}

func TestWebhookRoutes(t *testing.T) {
	e, _ := newServer(t)

	rec := serve(e, http.MethodPost, "/payment/webhook/nope", `{"reference":"R1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server Configuration Error")

	rec = serve(e, http.MethodGet, "/payment/check-status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookCannotApproveManualPayments(t *testing.T) {
	e, repo := newServer(t)
	auth := map[string]string{"Token": "secret"}

	rec := serve(e, http.MethodPost, "/api/payments", `{"amount":5000,"currency":"MYR","description":"Order 1","reference":"M1"}`, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(e, http.MethodPost, "/payment/webhook/"+payment.ManualProofDriver, `{"reference":"M1","approved":true}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(e, http.MethodGet, "/payment/webhook/"+payment.ManualProofDriver+"?reference=M1&approved=1", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)

	m, err := repo.Get(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, m.Status)
}
