package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tithi/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

func (s *Service) AuditLog(ctx context.Context, businessID snowflake.ID, action, targetType string, targetID *string, metadata map[string]any) error {
	if businessID == 0 || action == "" {
		return auditdomain.ErrInvalidAuditLog
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		BusinessID: businessID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   datatypes.JSONMap(metadata),
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.Error(err),
		)
		return err
	}
	return nil
}
