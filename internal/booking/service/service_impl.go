package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tithi/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
	"github.com/smallbiznis/tithi/internal/clock"
	"github.com/smallbiznis/tithi/internal/config"
	"github.com/smallbiznis/tithi/internal/fees"
	giftcarddomain "github.com/smallbiznis/tithi/internal/giftcard/domain"
	notificationdomain "github.com/smallbiznis/tithi/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/tithi/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config

	Repo            bookingdomain.Repository
	Processor       paymentdomain.Processor
	GiftCardSvc     giftcarddomain.Service
	NotificationSvc notificationdomain.Service
	AuditSvc        auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.Config

	repo         bookingdomain.Repository
	processor    paymentdomain.Processor
	giftcard     giftcarddomain.Service
	notification notificationdomain.Service
	audit        auditdomain.Service
}

func New(p Params) bookingdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("booking.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg,
		repo:         p.Repo,
		processor:    p.Processor,
		giftcard:     p.GiftCardSvc,
		notification: p.NotificationSvc,
		audit:        p.AuditSvc,
	}
}

// actionSpec binds a lifecycle action to its money movement and target state.
type actionSpec struct {
	action       bookingdomain.MoneyAction
	targetStatus bookingdomain.BookingStatus
	zeroResult   string
	auditAction  string
	noun         string
}

var (
	completeSpec = actionSpec{
		action:       bookingdomain.MoneyActionCompletedCharge,
		targetStatus: bookingdomain.BookingStatusCompleted,
		zeroResult:   bookingdomain.ResultNoCharge,
		auditAction:  "booking.completed",
		noun:         "completed",
	}
	noShowSpec = actionSpec{
		action:       bookingdomain.MoneyActionNoShowFee,
		targetStatus: bookingdomain.BookingStatusNoShow,
		zeroResult:   bookingdomain.ResultNoShow,
		auditAction:  "booking.no_show",
		noun:         "marked as a no-show",
	}
	cancelSpec = actionSpec{
		action:       bookingdomain.MoneyActionCancelFee,
		targetStatus: bookingdomain.BookingStatusCancelled,
		zeroResult:   bookingdomain.ResultCancelled,
		auditAction:  "booking.cancelled",
		noun:         "cancelled",
	}
)

// actionableStatuses are the states from which a money action may start.
var actionableStatuses = []bookingdomain.BookingStatus{
	bookingdomain.BookingStatusPending,
	bookingdomain.BookingStatusHeld,
}

func (s *Service) Complete(ctx context.Context, businessID, bookingID snowflake.ID) (*bookingdomain.ActionResult, error) {
	return s.performAction(ctx, businessID, bookingID, completeSpec)
}

func (s *Service) NoShow(ctx context.Context, businessID, bookingID snowflake.ID) (*bookingdomain.ActionResult, error) {
	return s.performAction(ctx, businessID, bookingID, noShowSpec)
}

func (s *Service) Cancel(ctx context.Context, businessID, bookingID snowflake.ID) (*bookingdomain.ActionResult, error) {
	return s.performAction(ctx, businessID, bookingID, cancelSpec)
}

func (s *Service) performAction(ctx context.Context, businessID, bookingID snowflake.ID, spec actionSpec) (*bookingdomain.ActionResult, error) {
	booking, err := s.repo.FindOwned(ctx, s.db, businessID, bookingID)
	if err != nil {
		return nil, err
	}
	if !statusIn(booking.Status, actionableStatuses) {
		return nil, fmt.Errorf("%w: booking is %s", bookingdomain.ErrInvalidState, booking.Status)
	}

	snap, err := booking.Snapshot()
	if err != nil {
		s.log.Error("booking has no usable policy snapshot",
			zap.Int64("booking_id", booking.ID.Int64()),
			zap.Error(err),
		)
		return nil, err
	}

	amount := fees.Compute(spec.action, snap, booking.FinalPriceCents)
	if amount == 0 {
		return s.finishWithoutCharge(ctx, booking, spec)
	}

	active, err := s.repo.HasActivePayment(ctx, s.db, booking.ID, spec.action)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s already has a live payment", bookingdomain.ErrInvalidState, spec.action)
	}

	methodRef, err := s.resolvePaymentMethod(ctx, booking)
	if err != nil {
		return nil, err
	}

	// The processor call stays outside any transaction: we never hold a
	// database transaction open across a network round trip.
	charge, err := s.processor.CreateCharge(ctx, paymentdomain.ChargeRequest{
		AmountCents:         amount,
		Currency:            "usd",
		CustomerRef:         booking.Customer.StripeCustomerID,
		PaymentMethodRef:    methodRef,
		ConnectedAccountRef: booking.Business.StripeAccountID,
		ApplicationFeeCents: fees.PlatformFee(amount, s.cfg.PlatformFeeBPS),
		Metadata: map[string]string{
			"booking_id":   booking.ID.String(),
			"business_id":  booking.BusinessID.String(),
			"money_action": string(spec.action),
		},
	})
	if err != nil {
		s.log.Error("charge attempt errored",
			zap.Int64("booking_id", booking.ID.Int64()),
			zap.String("money_action", string(spec.action)),
			zap.Error(err),
		)
		return nil, err
	}

	switch charge.Status {
	case paymentdomain.ChargeStatusSucceeded:
		return s.finishCharged(ctx, booking, spec, amount, charge)
	case paymentdomain.ChargeStatusRequiresAction:
		return s.recordPendingCharge(ctx, booking, spec, amount, charge)
	default:
		return nil, s.recordDecline(ctx, booking, spec, amount, charge)
	}
}

// finishWithoutCharge moves the booking to its terminal state when the
// computed amount is zero. No payment row is written and the processor is
// never contacted.
func (s *Service) finishWithoutCharge(ctx context.Context, booking *bookingdomain.Booking, spec actionSpec) (*bookingdomain.ActionResult, error) {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.TransitionStatus(ctx, tx, booking.ID, actionableStatuses, spec.targetStatus, booking.PaymentStatus, booking.LastMoneyAction, now)
		if err != nil {
			return err
		}
		if !moved {
			return bookingdomain.ErrStateChanged
		}
		if err := s.enqueueOutcome(ctx, tx, booking, spec, 0); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, bookingdomain.ErrStateChanged) {
			return nil, fmt.Errorf("%w: concurrent update", bookingdomain.ErrInvalidState)
		}
		return nil, err
	}

	s.writeAudit(ctx, booking, spec.auditAction, map[string]any{
		"charge_amount": int64(0),
	})

	return &bookingdomain.ActionResult{
		Status:            spec.zeroResult,
		ChargeAmountCents: 0,
	}, nil
}

func (s *Service) finishCharged(ctx context.Context, booking *bookingdomain.Booking, spec actionSpec, amount int64, charge *paymentdomain.ChargeResult) (*bookingdomain.ActionResult, error) {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPayment(ctx, tx, &bookingdomain.BookingPayment{
			ID:                s.genID.Generate(),
			BusinessID:        booking.BusinessID,
			BookingID:         booking.ID,
			MoneyAction:       spec.action,
			AmountCents:       amount,
			Status:            bookingdomain.PaymentStatusCharged,
			ProviderChargeRef: charge.ChargeRef,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return err
		}

		moved, err := s.repo.TransitionStatus(ctx, tx, booking.ID, actionableStatuses, spec.targetStatus, bookingdomain.PaymentStatusCharged, spec.action, now)
		if err != nil {
			return err
		}
		if !moved {
			return bookingdomain.ErrStateChanged
		}

		return s.enqueueOutcome(ctx, tx, booking, spec, amount)
	})
	if err != nil {
		// Money has moved but the bookkeeping did not commit. Surface a
		// server error and leave enough in the log to reconcile by hand.
		s.log.Error("charge succeeded but persistence failed, reconciliation required",
			zap.Int64("booking_id", booking.ID.Int64()),
			zap.String("charge_ref", charge.ChargeRef),
			zap.String("money_action", string(spec.action)),
			zap.Int64("amount_cents", amount),
			zap.Error(err),
		)
		return nil, err
	}

	s.writeAudit(ctx, booking, spec.auditAction, map[string]any{
		"charge_amount": amount,
		"charge_ref":    charge.ChargeRef,
	})

	return &bookingdomain.ActionResult{
		Status:            bookingdomain.ResultCharged,
		ChargeAmountCents: amount,
	}, nil
}

// recordPendingCharge persists a charge awaiting customer authentication.
// The booking keeps its current status so the action can be retried once
// the charge settles or dies.
func (s *Service) recordPendingCharge(ctx context.Context, booking *bookingdomain.Booking, spec actionSpec, amount int64, charge *paymentdomain.ChargeResult) (*bookingdomain.ActionResult, error) {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPayment(ctx, tx, &bookingdomain.BookingPayment{
			ID:                s.genID.Generate(),
			BusinessID:        booking.BusinessID,
			BookingID:         booking.ID,
			MoneyAction:       spec.action,
			AmountCents:       amount,
			Status:            bookingdomain.PaymentStatusChargePending,
			ProviderChargeRef: charge.ChargeRef,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return err
		}
		return s.repo.SetPaymentState(ctx, tx, booking.ID, bookingdomain.PaymentStatusChargePending, spec.action, now)
	})
	if err != nil {
		return nil, err
	}

	return &bookingdomain.ActionResult{
		Status:            bookingdomain.ResultRequiresAction,
		ChargeAmountCents: amount,
		ClientSecret:      charge.ClientSecret,
	}, nil
}

// recordDecline persists the failed attempt and returns ErrPaymentDeclined.
// The booking status is untouched so the admin can retry after the customer
// updates their card.
func (s *Service) recordDecline(ctx context.Context, booking *bookingdomain.Booking, spec actionSpec, amount int64, charge *paymentdomain.ChargeResult) error {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPayment(ctx, tx, &bookingdomain.BookingPayment{
			ID:                s.genID.Generate(),
			BusinessID:        booking.BusinessID,
			BookingID:         booking.ID,
			MoneyAction:       spec.action,
			AmountCents:       amount,
			Status:            bookingdomain.PaymentStatusFailed,
			ProviderChargeRef: charge.ChargeRef,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return err
		}
		return s.repo.SetPaymentState(ctx, tx, booking.ID, bookingdomain.PaymentStatusFailed, spec.action, now)
	})
	if err != nil {
		s.log.Error("failed to record declined charge",
			zap.Int64("booking_id", booking.ID.Int64()),
			zap.Error(err),
		)
		return err
	}

	s.log.Info("charge declined",
		zap.Int64("booking_id", booking.ID.Int64()),
		zap.String("money_action", string(spec.action)),
		zap.Int64("amount_cents", amount),
	)
	return bookingdomain.ErrPaymentDeclined
}

func (s *Service) Refund(ctx context.Context, businessID, bookingID snowflake.ID) (*bookingdomain.ActionResult, error) {
	booking, err := s.repo.FindOwned(ctx, s.db, businessID, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == bookingdomain.BookingStatusRefunded {
		return nil, fmt.Errorf("%w: booking already refunded", bookingdomain.ErrInvalidState)
	}

	charged, err := s.repo.LatestCharged(ctx, s.db, booking.ID)
	if err != nil {
		return nil, err
	}
	if charged == nil {
		return &bookingdomain.ActionResult{
			Status:  bookingdomain.ResultNoCharge,
			Message: "no settled charge to refund",
		}, nil
	}

	refund, err := s.processor.CreateRefund(ctx, charged.ProviderChargeRef)
	if err != nil {
		s.log.Error("refund attempt errored",
			zap.Int64("booking_id", booking.ID.Int64()),
			zap.String("charge_ref", charged.ProviderChargeRef),
			zap.Error(err),
		)
		return nil, err
	}

	amount := refund.AmountCents
	if amount == 0 {
		amount = charged.AmountCents
	}
	now := s.clock.Now()

	refundableStatuses := []bookingdomain.BookingStatus{
		bookingdomain.BookingStatusCompleted,
		bookingdomain.BookingStatusNoShow,
		bookingdomain.BookingStatusCancelled,
		bookingdomain.BookingStatusPending,
		bookingdomain.BookingStatusHeld,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPayment(ctx, tx, &bookingdomain.BookingPayment{
			ID:                s.genID.Generate(),
			BusinessID:        booking.BusinessID,
			BookingID:         booking.ID,
			MoneyAction:       bookingdomain.MoneyActionRefund,
			AmountCents:       amount,
			Status:            bookingdomain.PaymentStatusRefunded,
			ProviderChargeRef: charged.ProviderChargeRef,
			ProviderRefundRef: refund.RefundRef,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return err
		}

		moved, err := s.repo.TransitionStatus(ctx, tx, booking.ID, refundableStatuses, bookingdomain.BookingStatusRefunded, bookingdomain.PaymentStatusRefunded, bookingdomain.MoneyActionRefund, now)
		if err != nil {
			return err
		}
		if !moved {
			return bookingdomain.ErrStateChanged
		}

		if err := s.restoreGiftCard(ctx, tx, booking); err != nil {
			return err
		}

		return s.enqueueRefundNotice(ctx, tx, booking, amount)
	})
	if err != nil {
		s.log.Error("refund succeeded but persistence failed, reconciliation required",
			zap.Int64("booking_id", booking.ID.Int64()),
			zap.String("refund_ref", refund.RefundRef),
			zap.Int64("amount_cents", amount),
			zap.Error(err),
		)
		return nil, err
	}

	s.writeAudit(ctx, booking, "booking.refunded", map[string]any{
		"refund_amount": amount,
		"refund_ref":    refund.RefundRef,
	})

	return &bookingdomain.ActionResult{
		Status:            bookingdomain.ResultRefunded,
		RefundAmountCents: amount,
	}, nil
}

// restoreGiftCard puts redeemed gift card value back on refund when the
// business opted in. Percent-type cards represent a discount, not stored
// value, so restoration quietly skips them.
func (s *Service) restoreGiftCard(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	if booking.Business == nil || !booking.Business.RestoreGiftCardOnRefund {
		return nil
	}
	if booking.GiftCardID == nil || booking.GiftCardAmountAppliedCents <= 0 {
		return nil
	}

	err := s.giftcard.RestoreTx(ctx, tx, *booking.GiftCardID, booking.ID, booking.GiftCardAmountAppliedCents)
	if err != nil {
		if errors.Is(err, giftcarddomain.ErrNotConsumable) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) ListPayments(ctx context.Context, businessID, bookingID snowflake.ID) ([]bookingdomain.BookingPayment, error) {
	if _, err := s.repo.FindOwned(ctx, s.db, businessID, bookingID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, s.db, bookingID)
}

// resolvePaymentMethod returns the saved card reference, resolving it from
// the setup reference on first use and caching it on the customer row.
func (s *Service) resolvePaymentMethod(ctx context.Context, booking *bookingdomain.Booking) (string, error) {
	customer := booking.Customer
	if customer == nil {
		return "", bookingdomain.ErrNoPaymentMethod
	}
	if customer.PaymentMethodRef != "" {
		return customer.PaymentMethodRef, nil
	}
	if customer.SetupRef == "" {
		return "", bookingdomain.ErrNoPaymentMethod
	}

	methodRef, err := s.processor.ResolvePaymentMethod(ctx, customer.SetupRef)
	if err != nil {
		return "", err
	}
	if methodRef == "" {
		return "", bookingdomain.ErrNoPaymentMethod
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE customers SET payment_method_ref = ?, updated_at = ? WHERE id = ? AND payment_method_ref = ''`,
		methodRef,
		s.clock.Now(),
		customer.ID,
	).Error; err != nil {
		s.log.Warn("failed to cache payment method ref",
			zap.Int64("customer_id", customer.ID.Int64()),
			zap.Error(err),
		)
	}
	customer.PaymentMethodRef = methodRef
	return methodRef, nil
}

func (s *Service) enqueueOutcome(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, spec actionSpec, amount int64) error {
	subject := fmt.Sprintf("Your booking was %s", spec.noun)
	body := fmt.Sprintf("Your booking was %s.", spec.noun)
	if amount > 0 {
		body = fmt.Sprintf("Your booking was %s. %s was charged to your card on file.", spec.noun, formatMoney(amount))
	}
	return s.enqueueForCustomer(ctx, tx, booking, subject, body)
}

func (s *Service) enqueueRefundNotice(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, amount int64) error {
	subject := "Your refund is on its way"
	body := fmt.Sprintf("A refund of %s has been issued to your original payment method.", formatMoney(amount))
	return s.enqueueForCustomer(ctx, tx, booking, subject, body)
}

// enqueueForCustomer queues a notification on the customer's best channel:
// email when present, SMS otherwise. Jobs are still enqueued with an empty
// recipient so the failure surfaces in the dispatcher rather than silently
// dropping the message.
func (s *Service) enqueueForCustomer(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, subject, body string) error {
	channel := notificationdomain.ChannelEmail
	recipient := ""
	if booking.Customer != nil {
		recipient = booking.Customer.Email
		if recipient == "" && booking.Customer.Phone != "" {
			channel = notificationdomain.ChannelSMS
			recipient = booking.Customer.Phone
		}
	}

	bookingID := booking.ID
	_, err := s.notification.EnqueueTx(ctx, tx, notificationdomain.EnqueueRequest{
		BusinessID: booking.BusinessID,
		BookingID:  &bookingID,
		Channel:    channel,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
	})
	return err
}

func (s *Service) writeAudit(ctx context.Context, booking *bookingdomain.Booking, action string, metadata map[string]any) {
	targetID := booking.ID.String()
	if err := s.audit.AuditLog(ctx, booking.BusinessID, action, "booking", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func statusIn(status bookingdomain.BookingStatus, set []bookingdomain.BookingStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func formatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
