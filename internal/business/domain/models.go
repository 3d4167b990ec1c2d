package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Business is a tenant: one service business with its own customers,
// bookings and payment account.
type Business struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	Name                    string       `gorm:"not null" json:"name"`
	StripeAccountID         string       `gorm:"type:text" json:"stripe_account_id,omitempty"`
	RestoreGiftCardOnRefund bool         `gorm:"not null;default:false" json:"restore_gift_card_on_refund"`
	CreatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Business) TableName() string { return "businesses" }

// BusinessPolicy is one version of a business's fee rules. Rows are
// append-only: editing a policy inserts a new version, and existing
// bookings keep the snapshot frozen at creation time.
type BusinessPolicy struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;index" json:"business_id"`
	Version    int          `gorm:"not null" json:"version"`

	NoShowFeeType        string `gorm:"type:text;not null;default:'amount'" json:"no_show_fee_type"`
	NoShowFeeAmountCents int64  `gorm:"not null;default:0" json:"no_show_fee_amount_cents"`
	NoShowFeePercent     int64  `gorm:"not null;default:0" json:"no_show_fee_percent"`

	CancelFeeType        string `gorm:"type:text;not null;default:'amount'" json:"cancel_fee_type"`
	CancelFeeAmountCents int64  `gorm:"not null;default:0" json:"cancel_fee_amount_cents"`
	CancelFeePercent     int64  `gorm:"not null;default:0" json:"cancel_fee_percent"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (BusinessPolicy) TableName() string { return "business_policies" }
