package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence surface the orchestrator needs. Methods
// take the *gorm.DB handle explicitly so callers can scope them to a
// transaction.
type Repository interface {
	// FindOwned loads a booking with its customer and business, scoped
	// to the caller's business. Returns ErrNotFound for absent rows and
	// rows owned by another business alike.
	FindOwned(ctx context.Context, db *gorm.DB, businessID, bookingID snowflake.ID) (*Booking, error)

	// TransitionStatus performs a compare-and-swap on the booking status:
	// the update only applies while the status is still one of from.
	// Returns false when a concurrent writer got there first.
	TransitionStatus(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, from []BookingStatus, to BookingStatus, paymentStatus PaymentStatus, action MoneyAction, now time.Time) (bool, error)

	// SetPaymentState updates payment bookkeeping without moving the
	// booking through the state machine.
	SetPaymentState(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, paymentStatus PaymentStatus, action MoneyAction, now time.Time) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *BookingPayment) error

	// HasActivePayment reports whether a non-failed payment row already
	// exists for the action.
	HasActivePayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, action MoneyAction) (bool, error)

	// LatestCharged returns the most recent charged payment row, or nil.
	LatestCharged(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*BookingPayment, error)

	ListPayments(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]BookingPayment, error)
}
