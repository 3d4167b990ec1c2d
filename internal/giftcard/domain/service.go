package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("gift_card_not_found")
	ErrInactive            = errors.New("gift_card_inactive")
	ErrExpired             = errors.New("gift_card_expired")
	ErrInsufficientBalance = errors.New("gift_card_insufficient_balance")
	ErrNotConsumable       = errors.New("gift_card_not_consumable")
	ErrInvalidAmount       = errors.New("gift_card_invalid_amount")
	ErrBalanceDrift        = errors.New("gift_card_balance_drift")
)

type Service interface {
	// RedeemTx appends a negative-delta ledger entry and decrements the
	// cached balance inside the caller's transaction. Only invoked after
	// the payment consuming the balance has already succeeded.
	RedeemTx(ctx context.Context, tx *gorm.DB, cardID, bookingID snowflake.ID, amountCents int64) error

	// RestoreTx appends a positive-delta entry, capped so the balance
	// never exceeds the card's initial amount.
	RestoreTx(ctx context.Context, tx *gorm.DB, cardID, bookingID snowflake.ID, amountCents int64) error

	// Adjust applies a signed admin adjustment with its own transaction.
	Adjust(ctx context.Context, businessID snowflake.ID, code string, deltaCents int64) (*GiftCard, error)

	GetByCode(ctx context.Context, businessID snowflake.ID, code string) (*GiftCard, error)

	// Reconcile recomputes the balance from the ledger and reports drift
	// between the cached column and the derived value.
	Reconcile(ctx context.Context, cardID snowflake.ID) (int64, error)
}
