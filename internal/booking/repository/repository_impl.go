package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() bookingdomain.Repository {
	return &repository{}
}

func (r *repository) FindOwned(ctx context.Context, db *gorm.DB, businessID, bookingID snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	err := db.WithContext(ctx).
		Preload("Customer").
		Preload("Business").
		First(&booking, "id = ? AND business_id = ?", bookingID, businessID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, bookingdomain.ErrNotFound
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) TransitionStatus(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, from []bookingdomain.BookingStatus, to bookingdomain.BookingStatus, paymentStatus bookingdomain.PaymentStatus, action bookingdomain.MoneyAction, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, payment_status = ?, last_money_action = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		paymentStatus,
		action,
		now,
		bookingID,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetPaymentState(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, paymentStatus bookingdomain.PaymentStatus, action bookingdomain.MoneyAction, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET payment_status = ?, last_money_action = ?, updated_at = ?
		 WHERE id = ?`,
		paymentStatus,
		action,
		now,
		bookingID,
	).Error
}

func (r *repository) InsertPayment(ctx context.Context, db *gorm.DB, payment *bookingdomain.BookingPayment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repository) HasActivePayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, action bookingdomain.MoneyAction) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&bookingdomain.BookingPayment{}).
		Where("booking_id = ? AND money_action = ? AND status NOT IN ?",
			bookingID,
			action,
			[]bookingdomain.PaymentStatus{bookingdomain.PaymentStatusFailed},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) LatestCharged(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*bookingdomain.BookingPayment, error) {
	var payment bookingdomain.BookingPayment
	err := db.WithContext(ctx).
		Where("booking_id = ? AND status = ?", bookingID, bookingdomain.PaymentStatusCharged).
		Order("created_at DESC, id DESC").
		First(&payment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListPayments(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]bookingdomain.BookingPayment, error) {
	var payments []bookingdomain.BookingPayment
	err := db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
