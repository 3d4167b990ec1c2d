package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type DiscountType string

const (
	DiscountTypeAmount  DiscountType = "amount"
	DiscountTypePercent DiscountType = "percent"
)

type LedgerReason string

const (
	LedgerReasonRedemption    LedgerReason = "redemption"
	LedgerReasonRefundRestore LedgerReason = "refund_restore"
	LedgerReasonAdminAdjust   LedgerReason = "admin_adjust"
)

type GiftCard struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;uniqueIndex:ux_gift_cards_business_code" json:"business_id"`
	Code       string       `gorm:"type:text;not null;uniqueIndex:ux_gift_cards_business_code" json:"code"`

	DiscountType DiscountType `gorm:"type:text;not null" json:"discount_type"`

	// Amount-type cards carry a consumable balance; percent cards only
	// affect price computation and never touch the ledger.
	InitialAmountCents  int64 `gorm:"not null;default:0" json:"initial_amount_cents"`
	CurrentBalanceCents int64 `gorm:"not null;default:0" json:"current_balance_cents"`
	PercentOff          int64 `gorm:"not null;default:0" json:"percent_off"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (GiftCard) TableName() string { return "gift_cards" }

// LedgerEntry is an append-only signed-delta audit row. The cached
// current_balance_cents must always equal initial_amount_cents plus the
// sum of deltas.
type LedgerEntry struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	GiftCardID snowflake.ID  `gorm:"not null;index" json:"gift_card_id"`
	BookingID  *snowflake.ID `gorm:"index" json:"booking_id,omitempty"`
	DeltaCents int64         `gorm:"not null" json:"delta_cents"`
	Reason     LedgerReason  `gorm:"type:text;not null" json:"reason"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "gift_card_ledger" }
