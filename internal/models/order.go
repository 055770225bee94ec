package models

import "time"

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

// Order statuses
const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusReturned       OrderStatus = "returned"
)

// PaymentStatus of an order. The gateway itself is external.
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod chosen at checkout.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
	PaymentMethodOnline     PaymentMethod = "online"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI,
		PaymentMethodNetbanking, PaymentMethodWallet, PaymentMethodOnline:
		return true
	}
	return false
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusReturned},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusCancelled, OrderStatusReturned},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusCancelled, OrderStatusReturned},
	OrderStatusShipped:        {OrderStatusOutForDelivery, OrderStatusReturned},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusReturned},
}

// CancellableStatuses are the states an order may be cancelled from.
var CancellableStatuses = []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusReturned
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether s allows cancellation.
func (s OrderStatus) Cancellable() bool {
	return CanTransition(s, OrderStatusCancelled)
}

// Order is the snapshot created at checkout. After creation only the
// statuses, history, payment details and cancel reason change.
type Order struct {
	ID               int64           `db:"id" json:"id"`
	OrderNumber      string          `db:"order_number" json:"order_number"`
	UserID           string          `db:"user_id" json:"user_id"`
	ShippingAddress  ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod    PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentStatus    PaymentStatus   `db:"payment_status" json:"payment_status"`
	OrderStatus      OrderStatus     `db:"order_status" json:"order_status"`
	Subtotal         int64           `db:"subtotal" json:"subtotal"`
	Discount         int64           `db:"discount" json:"discount"`
	DeliveryCharge   int64           `db:"delivery_charge" json:"delivery_charge"`
	Tax              int64           `db:"tax" json:"tax"`
	CouponCode       string          `db:"coupon_code" json:"coupon_code,omitempty"`
	CouponDiscount   int64           `db:"coupon_discount" json:"coupon_discount"`
	Total            int64           `db:"total" json:"total"`
	ExpectedDelivery time.Time       `db:"expected_delivery" json:"expected_delivery"`
	PaymentDetails   JSONMap         `db:"payment_details" json:"payment_details,omitempty"`
	CancelReason     string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	IdempotencyKey   string          `db:"idempotency_key" json:"-"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`

	Items         []OrderItem   `db:"-" json:"items"`
	StatusHistory []StatusEntry `db:"-" json:"status_history"`
}

// OrderItem is a frozen copy of a product line at order time.
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Image     string `db:"image" json:"image"`
	Price     int64  `db:"price" json:"price"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// StatusEntry is one append-only record of the order status history.
type StatusEntry struct {
	ID        int64       `db:"id" json:"-"`
	OrderID   int64       `db:"order_id" json:"-"`
	Status    OrderStatus `db:"status" json:"status"`
	Comment   string      `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"timestamp"`
}

// Tracking is the public status projection of an order.
type Tracking struct {
	OrderNumber      string        `json:"order_number"`
	OrderStatus      OrderStatus   `json:"order_status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	ExpectedDelivery time.Time     `json:"expected_delivery"`
	StatusHistory    []StatusEntry `json:"status_history"`
}

// Tracking returns the status projection of o.
func (o *Order) Tracking() *Tracking {
	return &Tracking{
		OrderNumber:      o.OrderNumber,
		OrderStatus:      o.OrderStatus,
		PaymentStatus:    o.PaymentStatus,
		ExpectedDelivery: o.ExpectedDelivery,
		StatusHistory:    o.StatusHistory,
	}
}
