package dispatcher

import (
	"context"
	"time"

	auditdomain "github.com/smallbiznis/tithi/internal/audit/domain"
	"github.com/smallbiznis/tithi/internal/clock"
	"github.com/smallbiznis/tithi/internal/config"
	notificationdomain "github.com/smallbiznis/tithi/internal/notification/domain"
	"github.com/smallbiznis/tithi/internal/observability"
	"github.com/smallbiznis/tithi/internal/providers/email"
	"github.com/smallbiznis/tithi/internal/providers/sms"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const passLockKey = "tithi:dispatcher:pass"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Email    email.Provider
	SMS      sms.Provider
	AuditSvc auditdomain.Service
	Locker   *Locker                    `optional:"true"`
	Metrics  *observability.PassMetrics `optional:"true"`
}

// Dispatcher delivers queued notification jobs in polling passes with
// retry, exponential backoff, and dead-lettering.
type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.DispatcherConfig
	email    email.Provider
	sms      sms.Provider
	auditSvc auditdomain.Service
	locker   *Locker
	metrics  *observability.PassMetrics
}

// PassResult reports what one dispatch pass did.
type PassResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	DeadJobs  int `json:"dead_jobs"`
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("dispatcher"),
		clock:    p.Clock,
		cfg:      withDefaults(p.Cfg.Dispatcher),
		email:    p.Email,
		sms:      p.SMS,
		auditSvc: p.AuditSvc,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}
}

func withDefaults(cfg config.DispatcherConfig) config.DispatcherConfig {
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 30 * time.Minute
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 15 * time.Minute
	}
	return cfg
}

// RunPass executes exactly one dispatch pass. When a Locker is
// configured and another instance holds the pass lease, the pass is
// skipped and an empty result returned.
func (d *Dispatcher) RunPass(ctx context.Context) (PassResult, error) {
	var result PassResult

	if d.locker != nil {
		token, ok, err := d.locker.TryLock(ctx, passLockKey, d.cfg.RunInterval)
		if err != nil {
			return result, err
		}
		if !ok {
			d.log.Debug("dispatch pass already running elsewhere, skipping")
			return result, nil
		}
		defer func() {
			if err := d.locker.Release(ctx, passLockKey, token); err != nil {
				d.log.Warn("failed to release pass lock", zap.Error(err))
			}
		}()
	}

	now := d.clock.Now()

	if err := d.requeueStale(ctx, now); err != nil {
		d.log.Warn("failed to requeue stale jobs", zap.Error(err))
	}

	jobs, err := d.fetchDue(ctx, now)
	if err != nil {
		return result, err
	}

	// Jobs are sent sequentially within a pass to bound resource use.
	for i := range jobs {
		job := &jobs[i]
		claimed, err := d.claim(ctx, job, now)
		if err != nil {
			d.log.Warn("failed to claim job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		result.Processed++
		switch d.deliver(ctx, job) {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		case outcomeDead:
			result.DeadJobs++
		}
	}

	if d.metrics != nil {
		d.metrics.RecordPass(result.Processed, result.Sent, result.Failed, result.DeadJobs)
	}
	d.log.Info("dispatch pass finished",
		zap.Int("processed", result.Processed),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("dead_jobs", result.DeadJobs),
	)
	return result, nil
}

// RunForever runs dispatch passes until the context is cancelled.
func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunPass(ctx); err != nil {
				d.log.Error("dispatch pass failed", zap.Error(err))
			}
		}
	}
}

// requeueStale returns jobs stuck in_progress (crash mid-send) to the
// pending queue once they age past the staleness threshold.
func (d *Dispatcher) requeueStale(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-d.cfg.StalenessThreshold)
	result := d.db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		notificationdomain.JobStatusPending,
		now,
		notificationdomain.JobStatusInProgress,
		cutoff,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		d.log.Warn("requeued stale in_progress jobs", zap.Int64("count", result.RowsAffected))
	}
	return nil
}

func (d *Dispatcher) fetchDue(ctx context.Context, now time.Time) ([]notificationdomain.Job, error) {
	var pending []notificationdomain.Job
	err := d.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", notificationdomain.JobStatusPending, now).
		Order("scheduled_at ASC").
		Limit(d.cfg.BatchSize).
		Find(&pending).Error
	if err != nil {
		return nil, err
	}

	var retries []notificationdomain.Job
	err = d.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", notificationdomain.JobStatusFailed, now).
		Order("next_retry_at ASC").
		Limit(d.cfg.BatchSize).
		Find(&retries).Error
	if err != nil {
		return nil, err
	}

	return append(pending, retries...), nil
}

// claim flips the job to in_progress with a conditional update so that
// overlapping passes cannot both send the same job.
func (d *Dispatcher) claim(ctx context.Context, job *notificationdomain.Job, now time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		notificationdomain.JobStatusInProgress,
		now,
		job.ID,
		job.Status,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	job.Status = notificationdomain.JobStatusInProgress
	return true, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeDead
)

func (d *Dispatcher) deliver(ctx context.Context, job *notificationdomain.Job) outcome {
	log := d.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
	)

	if job.Recipient == "" {
		log.Warn("job has no recipient")
		return d.markFailed(ctx, job, "missing recipient")
	}

	var err error
	switch job.Channel {
	case notificationdomain.ChannelEmail:
		err = d.email.Send(ctx, job.Recipient, job.Subject, job.Body)
	case notificationdomain.ChannelSMS:
		err = d.sms.Send(ctx, job.Recipient, job.Body)
	default:
		err = notificationdomain.ErrUnknownChannel
	}
	if err != nil {
		log.Warn("delivery failed", zap.Error(err))
		return d.markFailed(ctx, job, err.Error())
	}

	now := d.clock.Now()
	if dbErr := d.db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, next_retry_at = NULL, last_error = '', updated_at = ?
		 WHERE id = ?`,
		notificationdomain.JobStatusSent,
		now,
		job.ID,
	).Error; dbErr != nil {
		log.Error("failed to mark job sent", zap.Error(dbErr))
		return outcomeFailed
	}

	jobID := job.ID.String()
	if auditErr := d.auditSvc.AuditLog(ctx, job.BusinessID, "notification.sent", "notification_job", &jobID, map[string]any{
		"channel":   string(job.Channel),
		"recipient": job.Recipient,
	}); auditErr != nil {
		log.Warn("failed to write audit event", zap.Error(auditErr))
	}
	return outcomeSent
}

// markFailed counts an attempt, schedules the retry with exponential
// backoff from a 30 minute base, and dead-letters the job once the
// attempt budget is exhausted.
func (d *Dispatcher) markFailed(ctx context.Context, job *notificationdomain.Job, reason string) outcome {
	now := d.clock.Now()
	attempts := job.AttemptCount + 1

	if attempts >= d.cfg.MaxAttempts {
		if err := d.db.WithContext(ctx).Exec(
			`UPDATE notification_jobs
			 SET status = ?, attempt_count = ?, next_retry_at = NULL, last_error = ?, updated_at = ?
			 WHERE id = ?`,
			notificationdomain.JobStatusDead,
			attempts,
			reason,
			now,
			job.ID,
		).Error; err != nil {
			d.log.Error("failed to dead-letter job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
		d.log.Warn("job dead-lettered",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempts", attempts),
		)
		return outcomeDead
	}

	retryAt := now.Add(d.cfg.RetryBase << (attempts - 1))
	if err := d.db.WithContext(ctx).Exec(
		`UPDATE notification_jobs
		 SET status = ?, attempt_count = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		notificationdomain.JobStatusFailed,
		attempts,
		retryAt,
		reason,
		now,
		job.ID,
	).Error; err != nil {
		d.log.Error("failed to record job failure",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
	return outcomeFailed
}
