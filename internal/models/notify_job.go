package models

import "time"

// NotifyJob is one outbound notification fanned out to several targets and
// delivered in batches by the scheduler.
type NotifyJob struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Kind           string    `gorm:"column:kind;size:50;index:idx_notify_jobs_kind_status,priority:1" json:"kind"`
	Status         string    `gorm:"column:status;size:30;index:idx_notify_jobs_kind_status,priority:2" json:"status"`
	ExternalRef    string    `gorm:"column:external_ref;size:255;index:idx_notify_jobs_external_ref" json:"external_ref"`
	Payload        string    `gorm:"column:payload;type:text" json:"payload"`
	TotalItems     int       `gorm:"column:total_items;default:0" json:"total_items"`
	ProcessedItems int       `gorm:"column:processed_items;default:0" json:"processed_items"`
	FailedItems    int       `gorm:"column:failed_items;default:0" json:"failed_items"`
	LastError      string    `gorm:"column:last_error;type:text" json:"last_error"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (NotifyJob) TableName() string {
	return "notify_jobs"
}

// NotifyJobItem is a single delivery target of a NotifyJob.
type NotifyJobItem struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID     uint      `gorm:"column:job_id;index:idx_notify_job_items_job_status,priority:1" json:"job_id"`
	Target    string    `gorm:"column:target;size:255" json:"target"`
	Status    string    `gorm:"column:status;size:30;index:idx_notify_job_items_job_status,priority:2" json:"status"`
	Attempts  int       `gorm:"column:attempts;default:0" json:"attempts"`
	LastError string    `gorm:"column:last_error;type:text" json:"last_error"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (NotifyJobItem) TableName() string {
	return "notify_job_items"
}

// Job and item states.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)
