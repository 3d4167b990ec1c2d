package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Header carries the client-supplied idempotency key on action requests.
const Header = "Idempotency-Key"

var ErrMissingKey = errors.New("missing_idempotency_key")

// Record stores the first response produced for a (key, route) pair.
// Write-once, read-many: retransmissions replay it verbatim. A zero
// StatusCode marks an in-flight reservation that has not completed yet.
type Record struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Key          string       `gorm:"type:text;not null;uniqueIndex:ux_idempotency_key_route" json:"key"`
	Route        string       `gorm:"type:text;not null;uniqueIndex:ux_idempotency_key_route" json:"route"`
	StatusCode   int          `gorm:"not null" json:"status_code"`
	ResponseBody []byte       `gorm:"type:bytea" json:"response_body"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Record) TableName() string { return "idempotency_records" }

type Service interface {
	// Reserve claims (key, route) for the caller. A new pair inserts an
	// in-flight placeholder and reports owned=true. Otherwise the existing
	// record comes back: a completed one carries the stored response, an
	// in-flight one has a zero StatusCode.
	Reserve(ctx context.Context, key, route string) (*Record, bool, error)

	// Complete fills the caller's reservation with the response to replay.
	Complete(ctx context.Context, key, route string, statusCode int, body []byte) error

	// Release drops an unfilled reservation so the key can be retried.
	Release(ctx context.Context, key, route string) error
}
