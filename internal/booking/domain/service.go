package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Action result statuses returned to the admin surface. These are part of
// the HTTP contract: callers branch on the status field to render outcomes.
const (
	ResultCharged        = "CHARGED"
	ResultRequiresAction = "REQUIRES_ACTION"
	ResultNoCharge       = "NO_CHARGE"
	ResultNoShow         = "NO_SHOW"
	ResultCancelled      = "CANCELLED"
	ResultRefunded       = "REFUNDED"
)

// ActionResult is the outcome of one booking money action.
type ActionResult struct {
	Status            string `json:"status"`
	ChargeAmountCents int64  `json:"charge_amount"`
	RefundAmountCents int64  `json:"refund_amount"`
	ClientSecret      string `json:"client_secret,omitempty"`
	Message           string `json:"message,omitempty"`
}

type Service interface {
	Complete(ctx context.Context, businessID, bookingID snowflake.ID) (*ActionResult, error)
	NoShow(ctx context.Context, businessID, bookingID snowflake.ID) (*ActionResult, error)
	Cancel(ctx context.Context, businessID, bookingID snowflake.ID) (*ActionResult, error)
	Refund(ctx context.Context, businessID, bookingID snowflake.ID) (*ActionResult, error)

	ListPayments(ctx context.Context, businessID, bookingID snowflake.ID) ([]BookingPayment, error)
}
