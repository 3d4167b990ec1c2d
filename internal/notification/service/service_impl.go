package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tithi/internal/clock"
	notificationdomain "github.com/smallbiznis/tithi/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) notificationdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, req notificationdomain.EnqueueRequest) (*notificationdomain.Job, error) {
	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.clock.Now()
	}

	job := notificationdomain.Job{
		ID:          s.genID.Generate(),
		BusinessID:  req.BusinessID,
		BookingID:   req.BookingID,
		Channel:     req.Channel,
		Recipient:   strings.TrimSpace(req.Recipient),
		Subject:     req.Subject,
		Body:        req.Body,
		Status:      notificationdomain.JobStatusPending,
		ScheduledAt: scheduledAt.UTC(),
	}
	if err := tx.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}

	s.log.Debug("notification job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
	)
	return &job, nil
}

func (s *Service) Enqueue(ctx context.Context, req notificationdomain.EnqueueRequest) (*notificationdomain.Job, error) {
	return s.EnqueueTx(ctx, s.db, req)
}
