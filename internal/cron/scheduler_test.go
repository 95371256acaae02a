package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paybridge/internal/config"
	"paybridge/internal/models"
	"paybridge/internal/notify"
	"paybridge/internal/payment"
	"paybridge/internal/repository"
)

// probeGateway answers every status probe with a fixed result.
type probeGateway struct {
	check payment.StatusCheck
}

func (g *probeGateway) Name() string                                  { return "fake" }
func (g *probeGateway) Type() payment.GatewayType                     { return payment.TypeAPI }
func (g *probeGateway) SupportsWebhooks() bool                        { return true }
func (g *probeGateway) SupportsRefunds() bool                         { return false }
func (g *probeGateway) VerifySignature(*payment.CallbackRequest) bool { return true }

func (g *probeGateway) CheckStatus(context.Context, *payment.Payable) payment.StatusCheck {
	return g.check
}

func (g *probeGateway) Initiate(context.Context, *payment.Payable) payment.InitiationResult {
	return payment.InitiationResult{Type: payment.InitiationRedirect, URL: "https://pay.test"}
}

func (g *probeGateway) Verify(context.Context, *payment.Payable, map[string]any) payment.VerificationResult {
	return payment.VerificationResult{}
}

func (g *probeGateway) ExtractReference(context.Context, *payment.CallbackRequest) string {
	return ""
}

func (g *probeGateway) Refund(context.Context, string, *int64) payment.RefundResult {
	return payment.RefundResult{}
}

type blockedErr struct{}

func (blockedErr) Error() string   { return "403 Forbidden: bot was blocked by the user" }
func (blockedErr) Permanent() bool { return true }

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fails[chatID]; ok {
		return err
	}
	f.sent = append(f.sent, chatID+":"+text)
	return nil
}

type fixture struct {
	scheduler *Scheduler
	payments  *repository.PaymentRepository
	jobs      *repository.NotifyJobRepository
	bus       *payment.Bus
	gateway   *probeGateway
	sender    *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Payment{}, &models.NotifyJob{}, &models.NotifyJobItem{}))

	payments := repository.NewPaymentRepository(db)
	jobs := repository.NewNotifyJobRepository(db)
	bus := payment.NewBus(zap.NewNop())
	registry := payment.NewRegistry(bus, zap.NewNop())
	gw := &probeGateway{check: payment.StatusCheck{Status: payment.StatusPending}}
	registry.Extend("fake", func() (payment.Gateway, error) { return gw, nil })
	dispatcher := payment.NewDispatcher(registry, payments, payment.Redirects{StatusURL: "/payment/status/"}, zap.NewNop())
	sender := &fakeSender{fails: map[string]error{}}

	cfg := config.CronConfig{
		ProbeSpec:   "0 */5 * * * *",
		ExpireSpec:  "0 0 * * * *",
		QueueSpec:   "0 * * * * *",
		ReportSpec:  "0 45 23 * * *",
		ProbeGrace:  10 * time.Minute,
		ExpireAfter: 24 * time.Hour,
		BatchSize:   10,
		MaxAttempts: 2,
	}
	s := New(cfg, Deps{
		Payments:   payments,
		Registry:   registry,
		Dispatcher: dispatcher,
		Jobs:       jobs,
		Sender:     sender,
		ChatIDs:    []string{"-100"},
	}, zap.NewNop())

	return &fixture{scheduler: s, payments: payments, jobs: jobs, bus: bus, gateway: gw, sender: sender}
}

func (f *fixture) seed(t *testing.T, reference, gateway string) {
	t.Helper()
	m, err := models.NewPayment(&payment.Payable{Reference: reference, Amount: 5000, Currency: "MYR", Gateway: gateway})
	require.NoError(t, err)
	require.NoError(t, f.payments.Create(context.Background(), m))
}

func (f *fixture) advance(d time.Duration) {
	at := time.Now().Add(d)
	f.scheduler.now = func() time.Time { return at }
}

func (f *fixture) status(t *testing.T, reference string) *models.Payment {
	t.Helper()
	m, err := f.payments.Get(context.Background(), reference)
	require.NoError(t, err)
	return m
}

func TestProbePending_SettlesDefinitiveAnswers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R1", "fake")
	f.seed(t, "R2", "retired")
	f.gateway.check = payment.StatusCheck{Status: payment.StatusPaid, TransactionID: "T1"}

	var succeeded []string
	f.bus.Subscribe(payment.EventSucceeded, func(evt payment.Event) error {
		succeeded = append(succeeded, evt.Payload.(payment.PaymentSucceeded).Payable.Reference)
		return nil
	})

	f.advance(time.Hour)
	f.scheduler.probePending()
	f.bus.Drain()

	r1 := f.status(t, "R1")
	assert.Equal(t, payment.StatusPaid, r1.Status)
	assert.Equal(t, "T1", r1.TransactionID)
	assert.Equal(t, payment.StatusPending, f.status(t, "R2").Status)
	assert.Equal(t, []string{"R1"}, succeeded)

	f.scheduler.probePending()
	f.bus.Drain()
	assert.Len(t, succeeded, 1)
}

func TestProbePending_RespectsGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R1", "fake")
	f.gateway.check = payment.StatusCheck{Status: payment.StatusPaid, TransactionID: "T1"}

	f.advance(0)
	f.scheduler.probePending()

	assert.Equal(t, payment.StatusPending, f.status(t, "R1").Status)
}

func TestProbePending_LeavesUndecidedPayments(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R1", "fake")
	f.gateway.check = payment.StatusCheck{Status: payment.StatusUnknown, Message: "timeout"}

	f.advance(time.Hour)
	f.scheduler.probePending()

	assert.Equal(t, payment.StatusPending, f.status(t, "R1").Status)
}

func TestProbePending_RotatesThroughBacklog(t *testing.T) {
	f := newFixture(t)
	f.scheduler.cfg.BatchSize = 1
	f.seed(t, "R1", "retired")
	f.seed(t, "R2", "fake")
	f.gateway.check = payment.StatusCheck{Status: payment.StatusPaid, TransactionID: "T2"}
	f.advance(time.Hour)

	f.scheduler.probePending()
	assert.Equal(t, payment.StatusPending, f.status(t, "R2").Status)

	f.scheduler.probePending()
	assert.Equal(t, payment.StatusPaid, f.status(t, "R2").Status)

	f.scheduler.probePending()
	assert.Zero(t, f.scheduler.probeCursor.Load())
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "R1", "fake")

	f.advance(time.Hour)
	f.scheduler.expirePending()
	assert.Equal(t, payment.StatusPending, f.status(t, "R1").Status)

	f.advance(25 * time.Hour)
	f.scheduler.expirePending()
	f.bus.Drain()

	m := f.status(t, "R1")
	assert.Equal(t, payment.StatusExpired, m.Status)
	assert.Equal(t, "No confirmation received within 24h0m0s", m.FailureReason())
}

func TestProcessQueuedJobs_RetriesThenFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.fails["blocked"] = blockedErr{}
	f.sender.fails["flaky"] = errors.New("connection reset")

	job, err := f.jobs.Enqueue(ctx, notify.KindTelegram, "payment.succeeded:R1", notify.Message{Text: "paid"}, []string{"1", "blocked", "flaky", "2"})
	require.NoError(t, err)

	f.scheduler.processQueuedJobs()

	assert.Equal(t, []string{"1:paid", "2:paid"}, f.sender.sent)
	pending, err := f.jobs.CountPendingItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	current, err := f.jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, current.Status)

	f.scheduler.processQueuedJobs()

	current, err = f.jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, current.Status)
	assert.Equal(t, 4, current.ProcessedItems)
	assert.Equal(t, 2, current.FailedItems)
}

func TestProcessQueuedJobs_AllTargetsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.fails["blocked"] = blockedErr{}

	job, err := f.jobs.Enqueue(ctx, notify.KindTelegram, "", notify.Message{Text: "paid"}, []string{"blocked"})
	require.NoError(t, err)

	f.scheduler.processQueuedJobs()

	current, err := f.jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, current.Status)
	assert.Contains(t, current.LastError, "blocked")
}

func TestProcessQueuedJobs_RejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.jobs.Enqueue(ctx, notify.KindTelegram, "", notify.Message{}, []string{"1"})
	require.NoError(t, err)

	f.scheduler.processQueuedJobs()

	current, err := f.jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, current.Status)
	assert.Equal(t, "empty message", current.LastError)
	assert.Empty(t, f.sender.sent)
}

func TestDailyStatusReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "R1", "fake")
	f.seed(t, "R2", "fake")

	f.scheduler.now = func() time.Time { return time.Date(2026, 3, 1, 23, 45, 0, 0, time.UTC) }
	f.scheduler.dailyStatusReport()
	f.scheduler.dailyStatusReport()

	job, err := f.jobs.NextActive(ctx, notify.KindTelegram)
	require.NoError(t, err)
	assert.Equal(t, "daily-report:2026-03-01", job.ExternalRef)
	assert.Equal(t, 1, job.TotalItems)
	assert.Contains(t, job.Payload, "pending: 2")
	assert.Contains(t, job.Payload, "Total: 2")
}

func TestStatusReport_SortsStatuses(t *testing.T) {
	text := statusReport("2026-03-01", map[string]int64{"paid": 1200, "failed": 3})

	assert.Contains(t, text, "failed: 3\npaid: 1,200\n")
	assert.Contains(t, text, "Total: 1,203")
}

func TestStart_RejectsInvalidSpec(t *testing.T) {
	f := newFixture(t)
	f.scheduler.cfg.ProbeSpec = "every now and then"

	err := f.scheduler.Start()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe pending payments")
}

func TestStart_RegistersJobs(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	assert.Len(t, f.scheduler.cron.Entries(), 4)
}
