package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/tithi/internal/business/domain"
	customerdomain "github.com/smallbiznis/tithi/internal/customer/domain"
	"gorm.io/datatypes"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusHeld      BookingStatus = "held"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusNoShow    BookingStatus = "no_show"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusNone          PaymentStatus = "none"
	PaymentStatusCardSaved     PaymentStatus = "card_saved"
	PaymentStatusChargePending PaymentStatus = "charge_pending"
	PaymentStatusCharged       PaymentStatus = "charged"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusFailed        PaymentStatus = "failed"
)

type MoneyAction string

const (
	MoneyActionNone            MoneyAction = "none"
	MoneyActionCompletedCharge MoneyAction = "completed_charge"
	MoneyActionNoShowFee       MoneyAction = "no_show_fee"
	MoneyActionCancelFee       MoneyAction = "cancel_fee"
	MoneyActionRefund          MoneyAction = "refund"
)

type FeeType string

const (
	FeeTypeAmount  FeeType = "amount"
	FeeTypePercent FeeType = "percent"
)

// PolicySnapshot is the business's fee rules frozen at booking creation.
// It is embedded on the booking as JSON and never mutated afterwards, so
// later policy edits do not retroactively change existing bookings.
type PolicySnapshot struct {
	PolicyVersion        int     `json:"policy_version"`
	NoShowFeeType        FeeType `json:"no_show_fee_type"`
	NoShowFeeAmountCents int64   `json:"no_show_fee_amount_cents"`
	NoShowFeePercent     int64   `json:"no_show_fee_percent"`
	CancelFeeType        FeeType `json:"cancel_fee_type"`
	CancelFeeAmountCents int64   `json:"cancel_fee_amount_cents"`
	CancelFeePercent     int64   `json:"cancel_fee_percent"`
}

type Booking struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;index" json:"business_id"`
	CustomerID snowflake.ID `gorm:"not null;index" json:"customer_id"`

	Status BookingStatus `gorm:"type:text;not null;default:'pending'" json:"status"`

	PriceCents                 int64         `gorm:"not null" json:"price_cents"`
	FinalPriceCents            int64         `gorm:"not null" json:"final_price_cents"`
	GiftCardID                 *snowflake.ID `gorm:"index" json:"gift_card_id,omitempty"`
	GiftCardAmountAppliedCents int64         `gorm:"not null;default:0" json:"gift_card_amount_applied_cents"`

	PolicySnapshot datatypes.JSON `gorm:"type:jsonb;not null" json:"policy_snapshot"`

	PaymentStatus   PaymentStatus `gorm:"type:text;not null;default:'none'" json:"payment_status"`
	LastMoneyAction MoneyAction   `gorm:"type:text;not null;default:'none'" json:"last_money_action"`

	StartsAt  time.Time `gorm:"not null" json:"starts_at"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Customer *customerdomain.Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Business *businessdomain.Business `gorm:"foreignKey:BusinessID" json:"business,omitempty"`
}

func (Booking) TableName() string { return "bookings" }

// Snapshot decodes the frozen policy snapshot.
func (b *Booking) Snapshot() (PolicySnapshot, error) {
	var snap PolicySnapshot
	if len(b.PolicySnapshot) == 0 {
		return snap, ErrMissingPolicySnapshot
	}
	if err := json.Unmarshal(b.PolicySnapshot, &snap); err != nil {
		return snap, ErrMissingPolicySnapshot
	}
	return snap, nil
}

// BookingPayment is one financial transaction tied to a booking. A booking
// may have many rows, one per money action, plus failed attempts.
type BookingPayment struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;index" json:"business_id"`
	BookingID  snowflake.ID `gorm:"not null;index" json:"booking_id"`

	MoneyAction MoneyAction   `gorm:"type:text;not null" json:"money_action"`
	AmountCents int64         `gorm:"not null" json:"amount_cents"`
	Status      PaymentStatus `gorm:"type:text;not null" json:"status"`

	ProviderSetupRef  string `gorm:"type:text" json:"provider_setup_ref,omitempty"`
	ProviderChargeRef string `gorm:"type:text" json:"provider_charge_ref,omitempty"`
	ProviderRefundRef string `gorm:"type:text" json:"provider_refund_ref,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (BookingPayment) TableName() string { return "booking_payments" }
