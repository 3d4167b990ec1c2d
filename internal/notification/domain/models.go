package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDead       JobStatus = "dead"
)

// Job is one queued outbound message. Jobs are written in the same
// transaction as the event that triggers them and delivered by the
// dispatcher in a separate scheduled pass.
type Job struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID  `gorm:"not null;index" json:"business_id"`
	BookingID  *snowflake.ID `gorm:"index" json:"booking_id,omitempty"`

	Channel   Channel `gorm:"type:text;not null" json:"channel"`
	Recipient string  `gorm:"type:text;not null;default:''" json:"recipient"`
	Subject   string  `gorm:"type:text;not null;default:''" json:"subject"`
	Body      string  `gorm:"type:text;not null;default:''" json:"body"`

	Status       JobStatus  `gorm:"type:text;not null;default:'pending';index" json:"status"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	NextRetryAt  *time.Time `gorm:"index" json:"next_retry_at,omitempty"`
	ScheduledAt  time.Time  `gorm:"not null;index" json:"scheduled_at"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Job) TableName() string { return "notification_jobs" }

// EnqueueRequest describes a message to queue for delivery.
type EnqueueRequest struct {
	BusinessID snowflake.ID
	BookingID  *snowflake.ID
	Channel    Channel
	Recipient  string
	Subject    string
	Body       string

	// ScheduledAt defaults to now when zero.
	ScheduledAt time.Time
}

type Service interface {
	// EnqueueTx queues a job inside the caller's transaction so the job
	// becomes visible if and only if the triggering event commits.
	EnqueueTx(ctx context.Context, tx *gorm.DB, req EnqueueRequest) (*Job, error)

	Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error)
}
