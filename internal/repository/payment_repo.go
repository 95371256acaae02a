package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"paybridge/internal/models"
	"paybridge/internal/payment"
)

// PaymentRepository persists payments and implements payment.Store.
type PaymentRepository struct {
	db *gorm.DB
}

var _ payment.Store = (*PaymentRepository)(nil)

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment row.
func (r *PaymentRepository) Create(ctx context.Context, m *models.Payment) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// Get returns the row for reference.
func (r *PaymentRepository) Get(ctx context.Context, reference string) (*models.Payment, error) {
	var m models.Payment
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindByReference implements payment.Store.
func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (*payment.Payable, error) {
	m, err := r.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	return m.Payable(), nil
}

// FindByID implements payment.Store. Non-numeric ids never match.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*payment.Payable, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return nil, payment.ErrPayableNotFound
	}
	var m models.Payment
	if err := r.db.WithContext(ctx).First(&m, uint(n)).Error; err != nil {
		return nil, notFound(err)
	}
	return m.Payable(), nil
}

// TransitionStatus applies t only when the current status passes its guard.
// The check and the write happen in one UPDATE so concurrent callbacks race
// on the row, not in memory.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, t payment.Transition) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": t.To}
		if t.TransactionID != "" {
			updates["transaction_id"] = t.TransactionID
		}

		res := guarded(tx.Model(&models.Payment{}).Where("reference = ?", t.Reference), t.Guard).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if t.FailureReason == "" {
			return nil
		}
		var m models.Payment
		if err := tx.Select("id", "metadata").Where("reference = ?", t.Reference).First(&m).Error; err != nil {
			return err
		}
		meta := m.Meta()
		meta[models.MetaFailureReason] = t.FailureReason
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Model(&models.Payment{}).Where("id = ?", m.ID).
			Update("metadata", datatypes.JSON(raw)).Error
	})
	return applied, err
}

func guarded(q *gorm.DB, g payment.Guard) *gorm.DB {
	switch g {
	case payment.GuardSucceeded:
		return q.Where("LOWER(status) IN ?", payment.SuccessStatuses())
	case payment.GuardPending:
		return q.Where("LOWER(status) IN ?", payment.PendingStatuses())
	default:
		settled := append(payment.SuccessStatuses(), payment.StatusRefunded)
		return q.Where("LOWER(status) NOT IN ?", settled)
	}
}

// SetGatewayReference records the provider-side id returned at initiation.
func (r *PaymentRepository) SetGatewayReference(ctx context.Context, reference, driver, gatewayRef string) error {
	updates := map[string]interface{}{"gateway": driver}
	if gatewayRef != "" {
		updates["gateway_ref"] = gatewayRef
	}
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("reference = ?", reference).
		Updates(updates).Error
}

// FindAll returns payments with pagination and search.
func (r *PaymentRepository) FindAll(ctx context.Context, limit, page int, query, status string) ([]models.Payment, int64, error) {
	var payments []models.Payment
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Payment{})

	if query != "" {
		search := "%" + query + "%"
		db = db.Where("reference LIKE ? OR customer_email LIKE ? OR transaction_id LIKE ? OR gateway LIKE ?",
			search, search, search, search)
	}
	if status != "" {
		db = db.Where("status = ?", status)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	if err := db.Limit(limit).Offset(offset).Order("id DESC").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// FindByCustomerEmail returns the most recent payments for an email.
func (r *PaymentRepository) FindByCustomerEmail(ctx context.Context, email string, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	if limit <= 0 {
		limit = 20
	}
	err := r.db.WithContext(ctx).Where("customer_email = ?", email).
		Order("id DESC").Limit(limit).Find(&payments).Error
	return payments, err
}

// FindPending returns pending payments created before olderThan that already
// went through a gateway, in id order starting after afterID.
func (r *PaymentRepository) FindPending(ctx context.Context, olderThan time.Time, afterID uint, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.WithContext(ctx).
		Where("LOWER(status) IN ? AND gateway <> '' AND created_at < ? AND id > ?", payment.PendingStatuses(), olderThan, afterID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payments).Error
	return payments, err
}

// CountByStatus groups payment counts by status.
func (r *PaymentRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payment.ErrPayableNotFound
	}
	return err
}
