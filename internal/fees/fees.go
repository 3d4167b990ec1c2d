// Package fees computes the amount to charge for a booking money action
// from the booking's frozen policy snapshot. All functions are pure.
package fees

import (
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
)

// DefaultPlatformFeeBPS is the platform's cut in basis points (1%).
const DefaultPlatformFeeBPS = 100

// Compute returns the amount in cents to charge for the given action.
//
// The fee basis is always finalPriceCents, the post-discount price; the
// original list price is never used. A zero result is a valid outcome and
// means no charge should be attempted at all.
func Compute(action bookingdomain.MoneyAction, snap bookingdomain.PolicySnapshot, finalPriceCents int64) int64 {
	if finalPriceCents < 0 {
		finalPriceCents = 0
	}

	switch action {
	case bookingdomain.MoneyActionCompletedCharge:
		return finalPriceCents
	case bookingdomain.MoneyActionNoShowFee:
		return feeFor(snap.NoShowFeeType, snap.NoShowFeeAmountCents, snap.NoShowFeePercent, finalPriceCents)
	case bookingdomain.MoneyActionCancelFee:
		return feeFor(snap.CancelFeeType, snap.CancelFeeAmountCents, snap.CancelFeePercent, finalPriceCents)
	default:
		return 0
	}
}

// PlatformFee returns the application fee charged on top of amountCents,
// rounded half-up. bps <= 0 falls back to DefaultPlatformFeeBPS.
func PlatformFee(amountCents, bps int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	if bps <= 0 {
		bps = DefaultPlatformFeeBPS
	}
	return (amountCents*bps + 5000) / 10000
}

func feeFor(feeType bookingdomain.FeeType, amountCents, percent, finalPriceCents int64) int64 {
	var fee int64
	switch feeType {
	case bookingdomain.FeeTypePercent:
		fee = percentOf(finalPriceCents, percent)
	default:
		fee = amountCents
	}
	if fee < 0 {
		fee = 0
	}
	if fee > finalPriceCents {
		fee = finalPriceCents
	}
	return fee
}

// percentOf rounds half-up to the nearest cent.
func percentOf(amountCents, percent int64) int64 {
	if amountCents <= 0 || percent <= 0 {
		return 0
	}
	return (amountCents*percent + 50) / 100
}
