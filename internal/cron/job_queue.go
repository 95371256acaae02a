package cron

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"paybridge/internal/models"
	"paybridge/internal/notify"
)

// JobQueue is the durable outbox the notify package writes to.
type JobQueue interface {
	Enqueue(ctx context.Context, kind, externalRef string, payload interface{}, targets []string) (*models.NotifyJob, error)
	NextActive(ctx context.Context, kind string) (*models.NotifyJob, error)
	FindJob(ctx context.Context, jobID uint) (*models.NotifyJob, error)
	MarkRunning(ctx context.Context, jobID uint) error
	Finalize(ctx context.Context, jobID uint, status, lastError string) error
	CountPendingItems(ctx context.Context, jobID uint) (int64, error)
	ListPendingItems(ctx context.Context, jobID uint, limit int) ([]models.NotifyJobItem, error)
	MarkItemDone(ctx context.Context, jobID, itemID uint) error
	RetryItem(ctx context.Context, jobID, itemID uint, errMsg string, maxAttempts int) error
	MarkItemFailed(ctx context.Context, jobID, itemID uint, errMsg string) error
}

const sendMessageBatchSize = 20

// permanent is implemented by delivery errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

func (s *Scheduler) processQueuedJobs() {
	defer s.recoverFromPanic("processQueuedJobs")

	if s.jobs == nil || s.sender == nil {
		return
	}
	s.processSendMessageJobs(context.Background())
}

func (s *Scheduler) processSendMessageJobs(ctx context.Context) {
	job, err := s.jobs.NextActive(ctx, notify.KindTelegram)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		s.logger.Error("Failed to fetch notify job", zap.Error(err))
		return
	}

	_ = s.jobs.MarkRunning(ctx, job.ID)

	var msg notify.Message
	if err := json.Unmarshal([]byte(job.Payload), &msg); err != nil || strings.TrimSpace(msg.Text) == "" {
		reason := "empty message"
		if err != nil {
			reason = "invalid payload: " + err.Error()
		}
		_ = s.jobs.Finalize(ctx, job.ID, models.JobFailed, trimErr(reason))
		return
	}

	items, err := s.jobs.ListPendingItems(ctx, job.ID, sendMessageBatchSize)
	if err != nil {
		s.logger.Error("Failed to list notify items", zap.Uint("job_id", job.ID), zap.Error(err))
		return
	}

	for _, item := range items {
		err := s.sender.SendMessage(ctx, item.Target, msg.Text)
		if err == nil {
			_ = s.jobs.MarkItemDone(ctx, job.ID, item.ID)
			continue
		}

		s.logger.Warn("Notify delivery failed",
			zap.Uint("job_id", job.ID),
			zap.String("target", item.Target),
			zap.Error(err),
		)
		var p permanent
		if errors.As(err, &p) && p.Permanent() {
			_ = s.jobs.MarkItemFailed(ctx, job.ID, item.ID, trimErr(err.Error()))
			continue
		}
		_ = s.jobs.RetryItem(ctx, job.ID, item.ID, trimErr(err.Error()), s.cfg.MaxAttempts)
	}

	pendingAfter, err := s.jobs.CountPendingItems(ctx, job.ID)
	if err != nil || pendingAfter > 0 {
		return
	}
	s.finalizeJob(ctx, job.ID)
}

// finalizeJob closes a drained job; it is failed only when no target was reached.
func (s *Scheduler) finalizeJob(ctx context.Context, jobID uint) {
	job, err := s.jobs.FindJob(ctx, jobID)
	if err != nil {
		s.logger.Error("Failed to reload notify job", zap.Uint("job_id", jobID), zap.Error(err))
		return
	}

	status := models.JobDone
	if job.TotalItems > 0 && job.FailedItems >= job.TotalItems {
		status = models.JobFailed
	}
	_ = s.jobs.Finalize(ctx, jobID, status, "")
	s.logger.Info("Notify job finished",
		zap.Uint("job_id", jobID),
		zap.String("status", status),
		zap.Int("processed", job.ProcessedItems),
		zap.Int("failed", job.FailedItems),
	)
}

func trimErr(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 900 {
		msg = msg[:900]
	}
	return msg
}
