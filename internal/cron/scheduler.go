package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"paybridge/internal/config"
	"paybridge/internal/models"
	"paybridge/internal/notify"
	"paybridge/internal/payment"
	"paybridge/internal/pkg/utils"
)

// Payments is the slice of the payment repository the jobs need.
type Payments interface {
	FindPending(ctx context.Context, olderThan time.Time, afterID uint, limit int) ([]models.Payment, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Sender delivers a single chat message.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	cfg        config.CronConfig
	logger     *zap.Logger
	payments   Payments
	registry   *payment.Registry
	dispatcher *payment.Dispatcher
	jobs       JobQueue
	sender     Sender
	chatIDs    []string
	now        func() time.Time

	// probeCursor is the last payment id probed; the next run continues after it.
	probeCursor atomic.Uint64
}

// Deps bundles the collaborators used by cron jobs. Jobs and Sender may be
// nil, in which case the outbox and daily report jobs are not registered.
type Deps struct {
	Payments   Payments
	Registry   *payment.Registry
	Dispatcher *payment.Dispatcher
	Jobs       JobQueue
	Sender     Sender
	ChatIDs    []string
}

// New creates a new cron scheduler.
func New(cfg config.CronConfig, deps Deps, logger *zap.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		cfg:        cfg,
		logger:     logger,
		payments:   deps.Payments,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		jobs:       deps.Jobs,
		sender:     deps.Sender,
		chatIDs:    deps.ChatIDs,
		now:        time.Now,
	}
}

type scheduledJob struct {
	name string
	spec string
	fn   func()
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	entries := []scheduledJob{
		{"probe pending payments", s.cfg.ProbeSpec, s.probePending},
		{"expire pending payments", s.cfg.ExpireSpec, s.expirePending},
	}
	if s.jobs != nil && s.sender != nil {
		entries = append(entries, scheduledJob{"process notify queue", s.cfg.QueueSpec, s.processQueuedJobs})
	}
	if s.jobs != nil && len(s.chatIDs) > 0 {
		entries = append(entries, scheduledJob{"daily status report", s.cfg.ReportSpec, s.dailyStatusReport})
	}

	for _, e := range entries {
		if strings.TrimSpace(e.spec) == "" {
			continue
		}
		name, fn := e.name, e.fn
		if _, err := s.cron.AddFunc(e.spec, func() {
			s.logger.Debug("Running: " + name)
			fn()
		}); err != nil {
			return fmt.Errorf("cron: schedule %q: %w", name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// ── Probe pending payments ────────────────────────────────────────────

// probePending asks each driver for the state of payments that have been
// pending longer than the grace period and settles definitive answers.
// Each run takes the next batch, so undecided rows do not starve newer ones.
func (s *Scheduler) probePending() {
	defer s.recoverFromPanic("probePending")

	ctx := context.Background()
	pending, err := s.payments.FindPending(ctx, s.now().Add(-s.cfg.ProbeGrace), uint(s.probeCursor.Load()), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Failed to load pending payments", zap.Error(err))
		return
	}
	if len(pending) < s.cfg.BatchSize {
		s.probeCursor.Store(0)
	} else {
		s.probeCursor.Store(uint64(pending[len(pending)-1].ID))
	}

	settled := 0
	for i := range pending {
		m := &pending[i]
		payable := m.Payable()
		check, err := s.registry.CheckStatus(ctx, m.Gateway, payable)
		if err != nil {
			s.logger.Warn("Status probe skipped", zap.String("reference", m.Reference), zap.String("driver", m.Gateway), zap.Error(err))
			continue
		}
		applied, err := s.dispatcher.ApplyStatus(ctx, m.Gateway, payable, check)
		if err != nil {
			s.logger.Error("Failed to apply probed status", zap.String("reference", m.Reference), zap.Error(err))
			continue
		}
		if applied {
			settled++
		}
	}

	s.logger.Debug("Pending probe completed", zap.Int("checked", len(pending)), zap.Int("settled", settled))
}

// ── Expire stale payments ─────────────────────────────────────────────

func (s *Scheduler) expirePending() {
	defer s.recoverFromPanic("expirePending")

	if s.cfg.ExpireAfter <= 0 {
		return
	}

	ctx := context.Background()
	stale, err := s.payments.FindPending(ctx, s.now().Add(-s.cfg.ExpireAfter), 0, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Failed to load stale payments", zap.Error(err))
		return
	}

	check := payment.StatusCheck{
		Status:  payment.StatusExpired,
		Message: fmt.Sprintf("No confirmation received within %s", s.cfg.ExpireAfter),
	}
	expired := 0
	for i := range stale {
		m := &stale[i]
		applied, err := s.dispatcher.ApplyStatus(ctx, m.Gateway, m.Payable(), check)
		if err != nil {
			s.logger.Error("Failed to expire payment", zap.String("reference", m.Reference), zap.Error(err))
			continue
		}
		if applied {
			expired++
		}
	}

	s.logger.Debug("Payment expire completed", zap.Int("processed", len(stale)), zap.Int("expired", expired))
}

// ── Daily status report ───────────────────────────────────────────────

func (s *Scheduler) dailyStatusReport() {
	defer s.recoverFromPanic("dailyStatusReport")

	ctx := context.Background()
	counts, err := s.payments.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to count payments", zap.Error(err))
		return
	}

	day := s.now().Format("2006-01-02")
	text := statusReport(day, counts)
	if _, err := s.jobs.Enqueue(ctx, notify.KindTelegram, "daily-report:"+day, notify.Message{Text: text}, s.chatIDs); err != nil {
		s.logger.Error("Failed to queue daily report", zap.Error(err))
	}
}

func statusReport(day string, counts map[string]int64) string {
	statuses := make([]string, 0, len(counts))
	var total int64
	for status, n := range counts {
		statuses = append(statuses, status)
		total += n
	}
	sort.Strings(statuses)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Payment report</b> %s\n\n", day)
	for _, status := range statuses {
		fmt.Fprintf(&b, "%s: %s\n", status, utils.FormatNumber(counts[status]))
	}
	fmt.Fprintf(&b, "\nTotal: %s", utils.FormatNumber(total))
	return b.String()
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
