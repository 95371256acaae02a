package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paybridge/internal/models"
	"paybridge/internal/payment"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Payment{}, &models.NotifyJob{}, &models.NotifyJobItem{}))
	return db
}

func seedPayment(t *testing.T, repo *PaymentRepository, reference, status string) *models.Payment {
	t.Helper()
	m, err := models.NewPayment(&payment.Payable{
		Reference:   reference,
		Amount:      5000,
		Currency:    "MYR",
		Description: "Order " + reference,
		Status:      status,
		Gateway:     "chip",
		Customer:    payment.Customer{Name: "Aina", Email: "aina@example.com"},
		Items:       []payment.LineItem{{Name: "Widget", Quantity: 2, Price: 2500}},
		URLs:        payment.URLs{Return: "https://shop.test/return"},
		Settings:    payment.Settings{payment.SettingLanguage: "en"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), m))
	return m
}

func TestPaymentRepository_FindRoundTripsPayable(t *testing.T) {
	repo := NewPaymentRepository(newTestDB(t))
	ctx := context.Background()
	m := seedPayment(t, repo, "R1", "")

	p, err := repo.FindByReference(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, p.ID)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, int64(5000), p.Amount)
	assert.Equal(t, "aina@example.com", p.Customer.Email)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "Widget", p.Items[0].Name)
	assert.Equal(t, "https://shop.test/return", p.URLs.Return)
	assert.Equal(t, "en", p.Settings.Get(payment.SettingLanguage, ""))

	byID, err := repo.FindByID(ctx, fmt.Sprint(m.ID))
	require.NoError(t, err)
	assert.Equal(t, "R1", byID.Reference)
}

func TestPaymentRepository_NotFound(t *testing.T) {
	repo := NewPaymentRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.FindByReference(ctx, "missing")
	assert.ErrorIs(t, err, payment.ErrPayableNotFound)

	_, err = repo.FindByID(ctx, "abc")
	assert.ErrorIs(t, err, payment.ErrPayableNotFound)

	_, err = repo.FindByID(ctx, "42")
	assert.ErrorIs(t, err, payment.ErrPayableNotFound)
}

func TestPaymentRepository_TransitionGuards(t *testing.T) {
	repo := NewPaymentRepository(newTestDB(t))
	ctx := context.Background()
	seedPayment(t, repo, "R1", "")

	applied, err := repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusPaid, TransactionID: "txn-1", Guard: payment.GuardOpen})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusFailed, FailureReason: "late", Guard: payment.GuardOpen})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusExpired, Guard: payment.GuardPending})
	require.NoError(t, err)
	assert.False(t, applied)

	m, err := repo.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaid, m.Status)
	assert.Equal(t, "txn-1", m.TransactionID)
	assert.Empty(t, m.FailureReason())

	applied, err = repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusRefunded, Guard: payment.GuardSucceeded})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusPaid, Guard: payment.GuardOpen})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPaymentRepository_TransitionRecordsFailureReason(t *testing.T) {
	repo := NewPaymentRepository(newTestDB(t))
	ctx := context.Background()
	seedPayment(t, repo, "R1", "")

	applied, err := repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusFailed, FailureReason: "Card declined", Guard: payment.GuardOpen})
	require.NoError(t, err)
	assert.True(t, applied)

	m, err := repo.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, m.Status)
	assert.Equal(t, "Card declined", m.FailureReason())

	// a failed payable may still be paid by a later retry
	applied, err = repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusPaid, TransactionID: "txn-2", Guard: payment.GuardOpen})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestPaymentRepository_ConcurrentTransitionsApplyOnce(t *testing.T) {
	repo := NewPaymentRepository(newTestDB(t))
	ctx := context.Background()
	seedPayment(t, repo, "R1", "")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applied, err := repo.TransitionStatus(ctx, payment.Transition{Reference: "R1", To: payment.StatusPaid, TransactionID: fmt.Sprintf("txn-%d", i), Guard: payment.GuardOpen})
			assert.NoError(t, err)
			if applied {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestPaymentRepository_FindAllAndPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()
	seedPayment(t, repo, "ORD-1", "")
	seedPayment(t, repo, "ORD-2", payment.StatusPaid)
	seedPayment(t, repo, "OTHER-3", "")

	all, total, err := repo.FindAll(ctx, 2, 1, "ORD", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)
	assert.Equal(t, "ORD-2", all[0].Reference)

	paid, total, err := repo.FindAll(ctx, 0, 0, "", payment.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "ORD-2", paid[0].Reference)

	pending, err := repo.FindPending(ctx, time.Now().Add(time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "ORD-1", pending[0].Reference)

	pending, err = repo.FindPending(ctx, time.Now().Add(time.Hour), pending[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "OTHER-3", pending[0].Reference)

	created := seedPayment(t, repo, "ORD-4", "created")
	pending, err = repo.FindPending(ctx, time.Now().Add(time.Hour), pending[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)

	pending, err = repo.FindPending(ctx, time.Now().Add(-time.Hour), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[payment.StatusPending])
	assert.Equal(t, int64(1), counts["created"])
	assert.Equal(t, int64(1), counts[payment.StatusPaid])
}

func TestPaymentRepository_SetGatewayReference(t *testing.T) {
	repo := NewPaymentRepository(newTestDB(t))
	ctx := context.Background()
	seedPayment(t, repo, "R1", "")

	require.NoError(t, repo.SetGatewayReference(ctx, "R1", "stripe", "cs_1"))

	p, err := repo.FindByReference(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "stripe", p.Gateway)
	assert.Equal(t, "cs_1", p.GatewayRef)
}

func TestNotifyJobRepository_Lifecycle(t *testing.T) {
	repo := NewNotifyJobRepository(newTestDB(t))
	ctx := context.Background()

	job, err := repo.Enqueue(ctx, "telegram", "payment.succeeded:R1", map[string]string{"text": "hi"}, []string{"1", "2", "1", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalItems)

	again, err := repo.Enqueue(ctx, "telegram", "payment.succeeded:R1", nil, []string{"3"})
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)

	next, err := repo.NextActive(ctx, "telegram")
	require.NoError(t, err)
	assert.Equal(t, job.ID, next.ID)
	require.NoError(t, repo.MarkRunning(ctx, job.ID))

	items, err := repo.ListPendingItems(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NoError(t, repo.MarkItemDone(ctx, job.ID, items[0].ID))
	require.NoError(t, repo.RetryItem(ctx, job.ID, items[1].ID, "timeout", 2))

	left, err := repo.CountPendingItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)

	require.NoError(t, repo.RetryItem(ctx, job.ID, items[1].ID, "timeout", 2))
	left, err = repo.CountPendingItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)

	require.NoError(t, repo.Finalize(ctx, job.ID, models.JobDone, ""))
	_, err = repo.NextActive(ctx, "telegram")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestNotifyJobRepository_NoTargetsIsDone(t *testing.T) {
	repo := NewNotifyJobRepository(newTestDB(t))

	job, err := repo.Enqueue(context.Background(), "telegram", "", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, job.Status)
}
