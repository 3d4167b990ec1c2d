// Package stripe implements the payment processor contract with the
// Stripe API: off-session PaymentIntents against a saved card, refunds
// keyed by the prior intent, and SetupIntent resolution.
package stripe

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/setupintent"

	"github.com/smallbiznis/tithi/internal/config"
	paymentdomain "github.com/smallbiznis/tithi/internal/payment/domain"
	"go.uber.org/zap"
)

type Adapter struct {
	log *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) paymentdomain.Processor {
	stripe.Key = cfg.StripeSecretKey
	return &Adapter{log: log.Named("payment.stripe")}
}

func (a *Adapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	if req.PaymentMethodRef == "" {
		return nil, paymentdomain.ErrMissingPaymentMethod
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata:      req.Metadata,
	}
	params.Context = ctx
	if req.ApplicationFeeCents > 0 {
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeCents)
	}
	if req.ConnectedAccountRef != "" {
		params.SetStripeAccount(req.ConnectedAccountRef)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		// A card decline is a terminal outcome for the attempt, not a
		// transport failure; the declined intent still carries a ref.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			result := &paymentdomain.ChargeResult{Status: paymentdomain.ChargeStatusFailed}
			if stripeErr.PaymentIntent != nil {
				result.ChargeRef = stripeErr.PaymentIntent.ID
			}
			a.log.Warn("charge declined",
				zap.String("decline_code", string(stripeErr.DeclineCode)),
			)
			return result, nil
		}
		return nil, err
	}

	result := &paymentdomain.ChargeResult{
		ChargeRef:    intent.ID,
		ClientSecret: intent.ClientSecret,
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = paymentdomain.ChargeStatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		result.Status = paymentdomain.ChargeStatusRequiresAction
	default:
		result.Status = paymentdomain.ChargeStatusFailed
	}
	return result, nil
}

func (a *Adapter) CreateRefund(ctx context.Context, chargeRef string) (*paymentdomain.RefundResult, error) {
	if chargeRef == "" {
		return nil, paymentdomain.ErrMissingChargeRef
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeRef),
		Reason:        stripe.String("requested_by_customer"),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.RefundResult{
		RefundRef:   r.ID,
		AmountCents: r.Amount,
	}, nil
}

func (a *Adapter) ResolvePaymentMethod(ctx context.Context, setupRef string) (string, error) {
	if setupRef == "" {
		return "", paymentdomain.ErrMissingPaymentMethod
	}

	params := &stripe.SetupIntentParams{}
	params.Context = ctx

	intent, err := setupintent.Get(setupRef, params)
	if err != nil {
		return "", err
	}
	if intent.PaymentMethod == nil || intent.PaymentMethod.ID == "" {
		return "", paymentdomain.ErrMissingPaymentMethod
	}
	return intent.PaymentMethod.ID, nil
}
