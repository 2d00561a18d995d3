package models

import (
	"time"
)

// Payment link types.
const (
	LinkTypeOneTime      = "ONE_TIME"
	LinkTypeSubscription = "SUBSCRIPTION"
	LinkTypeEvent        = "EVENT"
)

// PaymentLink is a creator-configured payment page. For subscription links,
// Frequency caps the number of charges (0 = unlimited) and IntervalDays is
// the billing period.
type PaymentLink struct {
	ID           int        `json:"id" db:"id"`
	UserID       string     `json:"userId" db:"user_id"`
	Code         string     `json:"code" db:"code"`
	Name         string     `json:"name" db:"name"`
	PaymentType  string     `json:"paymentType" db:"payment_type"`
	AmountKobo   int64      `json:"amount" db:"amount"`
	Currency     string     `json:"currency" db:"currency"`
	Frequency    int        `json:"frequency" db:"frequency"`
	IntervalDays int        `json:"interval" db:"interval_days"`
	CheckoutURL  string     `json:"checkoutUrl" db:"checkout_url"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// PaymentLinkClient tracks one subscriber's billing cursor against a
// subscription link. The scheduler advances NextChargeDate and TimesBilled
// only on a confirmed successful charge.
type PaymentLinkClient struct {
	ID             int        `json:"id" db:"id"`
	LinkID         int        `json:"linkId" db:"link_id"`
	Email          string     `json:"email" db:"email"`
	CardToken      string     `json:"-" db:"card_token"`
	NextChargeDate time.Time  `json:"nextChargeDate" db:"next_charge_date"`
	TimesBilled    int        `json:"timesBilled" db:"times_billed"`
	FailedAttempts int        `json:"failedAttempts" db:"failed_attempts"`
	Flagged        bool       `json:"flagged" db:"flagged"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}
