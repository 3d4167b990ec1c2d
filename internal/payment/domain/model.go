package domain

import (
	"context"
	"errors"
)

// ChargeStatus is the processor's verdict on a charge attempt.
type ChargeStatus string

const (
	ChargeStatusSucceeded      ChargeStatus = "succeeded"
	ChargeStatusRequiresAction ChargeStatus = "requires_action"
	ChargeStatusFailed         ChargeStatus = "payment_failed"
)

var (
	ErrMissingPaymentMethod = errors.New("payment_method_missing")
	ErrMissingChargeRef     = errors.New("charge_ref_missing")
)

// ChargeRequest describes one off-session charge against a saved card.
type ChargeRequest struct {
	AmountCents         int64
	Currency            string
	CustomerRef         string
	PaymentMethodRef    string
	ConnectedAccountRef string
	ApplicationFeeCents int64
	Metadata            map[string]string
}

type ChargeResult struct {
	ChargeRef    string
	ClientSecret string
	Status       ChargeStatus
}

type RefundResult struct {
	RefundRef   string
	AmountCents int64
}

// Processor is the payment gateway contract the lifecycle engine needs:
// opaque-token charge, refund, and saved-card resolution. A declined
// charge is reported as ChargeStatusFailed, not as an error.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateRefund(ctx context.Context, chargeRef string) (*RefundResult, error)
	ResolvePaymentMethod(ctx context.Context, setupRef string) (string, error)
}
