package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Customer struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID snowflake.ID `gorm:"not null;index" json:"business_id"`
	Name       string       `gorm:"not null" json:"name"`
	Email      string       `gorm:"type:text" json:"email,omitempty"`
	Phone      string       `gorm:"type:text" json:"phone,omitempty"`

	// Card-on-file references established by the public booking flow.
	StripeCustomerID string `gorm:"type:text" json:"stripe_customer_id,omitempty"`
	SetupRef         string `gorm:"type:text" json:"setup_ref,omitempty"`
	PaymentMethodRef string `gorm:"type:text" json:"payment_method_ref,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
