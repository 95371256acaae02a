package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"paybridge/internal/models"
)

// NotifyJobRepository handles the outbound notification queue.
type NotifyJobRepository struct {
	db *gorm.DB
}

func NewNotifyJobRepository(db *gorm.DB) *NotifyJobRepository {
	return &NotifyJobRepository{db: db}
}

var activeJobStatuses = []string{models.JobPending, models.JobRunning}

// Enqueue creates a job and its pending targets in one transaction.
// If externalRef is non-empty and a job already exists for that ref, it returns that job.
func (r *NotifyJobRepository) Enqueue(ctx context.Context, kind, externalRef string, payload interface{}, targets []string) (*models.NotifyJob, error) {
	db := r.db.WithContext(ctx)
	if externalRef != "" {
		var existing models.NotifyJob
		err := db.Where("external_ref = ? AND kind = ?", externalRef, kind).
			Order("id DESC").
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	uniqueTargets := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		uniqueTargets = append(uniqueTargets, t)
	}

	job := &models.NotifyJob{
		Kind:        kind,
		Status:      models.JobPending,
		ExternalRef: externalRef,
		Payload:     string(payloadRaw),
		TotalItems:  len(uniqueTargets),
	}
	if len(uniqueTargets) == 0 {
		job.Status = models.JobDone
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if len(uniqueTargets) == 0 {
			return nil
		}

		items := make([]models.NotifyJobItem, 0, len(uniqueTargets))
		for _, target := range uniqueTargets {
			items = append(items, models.NotifyJobItem{
				JobID:  job.ID,
				Target: target,
				Status: models.JobPending,
			})
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// NextActive picks the oldest running job, then the oldest pending one.
func (r *NotifyJobRepository) NextActive(ctx context.Context, kind string) (*models.NotifyJob, error) {
	db := r.db.WithContext(ctx)
	var job models.NotifyJob
	err := db.Where("kind = ? AND status = ?", kind, models.JobRunning).
		Order("id ASC").
		First(&job).Error
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = db.Where("kind = ? AND status = ?", kind, models.JobPending).
		Order("id ASC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *NotifyJobRepository) FindJob(ctx context.Context, jobID uint) (*models.NotifyJob, error) {
	var job models.NotifyJob
	if err := r.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *NotifyJobRepository) MarkRunning(ctx context.Context, jobID uint) error {
	return r.db.WithContext(ctx).Model(&models.NotifyJob{}).
		Where("id = ? AND status IN ?", jobID, activeJobStatuses).
		Update("status", models.JobRunning).Error
}

func (r *NotifyJobRepository) Finalize(ctx context.Context, jobID uint, status, lastError string) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	return r.db.WithContext(ctx).Model(&models.NotifyJob{}).Where("id = ?", jobID).Updates(updates).Error
}

func (r *NotifyJobRepository) CountPendingItems(ctx context.Context, jobID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.NotifyJobItem{}).
		Where("job_id = ? AND status = ?", jobID, models.JobPending).
		Count(&count).Error
	return count, err
}

func (r *NotifyJobRepository) ListPendingItems(ctx context.Context, jobID uint, limit int) ([]models.NotifyJobItem, error) {
	var items []models.NotifyJobItem
	q := r.db.WithContext(ctx).Where("job_id = ? AND status = ?", jobID, models.JobPending).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&items).Error
	return items, err
}

// MarkItemDone marks a job item as done and increments the processed counter.
func (r *NotifyJobRepository) MarkItemDone(ctx context.Context, jobID, itemID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.NotifyJobItem{}).
			Where("id = ? AND job_id = ? AND status = ?", itemID, jobID, models.JobPending).
			Updates(map[string]interface{}{
				"status":     models.JobDone,
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.NotifyJob{}).Where("id = ?", jobID).
			Update("processed_items", gorm.Expr("processed_items + 1")).Error
	})
}

// RetryItem records a failed attempt and leaves the item pending until
// maxAttempts is reached, after which it is marked failed.
func (r *NotifyJobRepository) RetryItem(ctx context.Context, jobID, itemID uint, errMsg string, maxAttempts int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.NotifyJobItem
		if err := tx.Where("id = ? AND job_id = ? AND status = ?", itemID, jobID, models.JobPending).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if item.Attempts+1 < maxAttempts {
			return tx.Model(&models.NotifyJobItem{}).Where("id = ?", itemID).
				Updates(map[string]interface{}{
					"attempts":   gorm.Expr("attempts + 1"),
					"last_error": errMsg,
				}).Error
		}
		return markItemFailed(tx, jobID, itemID, errMsg)
	})
}

// MarkItemFailed marks a job item as failed and increments counters.
func (r *NotifyJobRepository) MarkItemFailed(ctx context.Context, jobID, itemID uint, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return markItemFailed(tx, jobID, itemID, errMsg)
	})
}

func markItemFailed(tx *gorm.DB, jobID, itemID uint, errMsg string) error {
	res := tx.Model(&models.NotifyJobItem{}).
		Where("id = ? AND job_id = ? AND status = ?", itemID, jobID, models.JobPending).
		Updates(map[string]interface{}{
			"status":     models.JobFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": errMsg,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	return tx.Model(&models.NotifyJob{}).Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"processed_items": gorm.Expr("processed_items + 1"),
			"failed_items":    gorm.Expr("failed_items + 1"),
			"last_error":      errMsg,
		}).Error
}
