package domain

import "errors"

var (
	ErrNotFound              = errors.New("booking_not_found")
	ErrInvalidState          = errors.New("invalid_booking_state")
	ErrMissingPolicySnapshot = errors.New("missing_policy_snapshot")
	ErrNoPaymentMethod       = errors.New("no_payment_method")
	ErrPaymentDeclined       = errors.New("payment_declined")
	ErrStateChanged          = errors.New("booking_state_changed")
)
