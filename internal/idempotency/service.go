package idempotency

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tithi/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type store struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) Service {
	return &store{
		db:    p.DB,
		log:   p.Log.Named("idempotency"),
		genID: p.GenID,
	}
}

// Reserve inserts an in-flight placeholder for (key, route). The unique
// index makes the first writer win; a loser reads back whatever the winner
// left, completed or still in flight.
func (s *store) Reserve(ctx context.Context, key, route string) (*Record, bool, error) {
	rec := Record{
		ID:    s.genID.Generate(),
		Key:   key,
		Route: route,
	}
	err := s.db.WithContext(ctx).Create(&rec).Error
	if err == nil {
		return nil, true, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	var existing Record
	if err := s.db.WithContext(ctx).
		First(&existing, "key = ? AND route = ?", key, route).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			// The winner released its reservation between our insert and
			// the read. Treat the key as busy; the client retries.
			return nil, false, nil
		}
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *store) Complete(ctx context.Context, key, route string, statusCode int, body []byte) error {
	return s.db.WithContext(ctx).Model(&Record{}).
		Where("key = ? AND route = ? AND status_code = 0", key, route).
		Updates(map[string]interface{}{
			"status_code":   statusCode,
			"response_body": body,
		}).Error
}

func (s *store) Release(ctx context.Context, key, route string) error {
	return s.db.WithContext(ctx).
		Where("key = ? AND route = ? AND status_code = 0", key, route).
		Delete(&Record{}).Error
}
