package models

import (
	"time"
)

// Order statuses. PENDING is the initial state at creation time; the expiry
// sweep moves unpaid orders to FAILED, payment confirmation moves them to
// PROCESSING. Fulfilment states are reached by creator action.
const (
	OrderStatusPending     = "PENDING"
	OrderStatusProcessing  = "PROCESSING"
	OrderStatusFailed      = "FAILED"
	OrderStatusFulfilled   = "FULFILLED"
	OrderStatusToPickup    = "TO_PICKUP"
	OrderStatusEnroute     = "ENROUTE"
	OrderStatusUnfulfilled = "UNFULFILLED"
	OrderStatusPreorder    = "PREORDER"
)

// Payment status markers on an order.
const (
	PaymentStatusUnpaid = "UNPAID"
	PaymentStatusPaid   = "PAID"
)

// Merch is a merchandise listing. Quantity is available stock, decremented
// on order creation and restored when a hold expires.
type Merch struct {
	ID        int        `json:"id" db:"id"`
	StoreID   string     `json:"storeId" db:"store_id"`
	Name      string     `json:"name" db:"name"`
	PriceKobo int64      `json:"price" db:"price"`
	Currency  string     `json:"currency" db:"currency"`
	Quantity  int        `json:"quantity" db:"quantity"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// OrderItem is one reserved line of an order.
type OrderItem struct {
	ID            int    `json:"id" db:"id"`
	OrderID       int    `json:"orderId" db:"order_id"`
	MerchID       int    `json:"merchId" db:"merch_id"`
	Quantity      int    `json:"quantity" db:"quantity"`
	UnitPriceKobo int64  `json:"unitPrice" db:"unit_price"`
	Currency      string `json:"currency" db:"currency"`
}

// Order is one checkout attempt holding inventory until paid or expired.
type Order struct {
	ID            int         `json:"id" db:"id"`
	Code          string      `json:"code" db:"code"`
	UserID        string      `json:"userId" db:"user_id"`
	StoreID       string      `json:"storeId" db:"store_id"`
	Items         []OrderItem `json:"items"`
	TotalKobo     int64       `json:"total" db:"total"`
	DiscountKobo  int64       `json:"discount" db:"discount"`
	PaymentURL    string      `json:"paymentUrl" db:"payment_url"`
	Status        string      `json:"status" db:"status"`
	PaymentStatus string      `json:"paymentStatus" db:"payment_status"`
	CustomerEmail string      `json:"customerEmail" db:"customer_email"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
	DeletedAt     *time.Time  `json:"deletedAt,omitempty" db:"deleted_at"`
}
