package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderPlaced          = "ORDER_PLACED"
	EventTypeOrderCancelled       = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypePaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id.
func NewBaseEvent(eventType string, at time.Time) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

// OrderPlacedEvent carries the order snapshot for the confirmation notice.
type OrderPlacedEvent struct {
	BaseEvent
	Recipient string `json:"recipient"`
	Order     *Order `json:"order"`
}

// OrderCancelledEvent published when an order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	Recipient   string        `json:"recipient"`
	OrderID     int64         `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	Reason      string        `json:"reason"`
	Refunded    bool          `json:"refunded"`
	Items       []OrderItem   `json:"items"`
	Payment     PaymentStatus `json:"payment_status"`
}

// OrderStatusChangedEvent published on every forward lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	Recipient   string      `json:"recipient"`
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Comment     string      `json:"comment,omitempty"`
}

// PaymentStatusChangedEvent published when the payment status is updated
type PaymentStatusChangedEvent struct {
	BaseEvent
	Recipient   string        `json:"recipient"`
	OrderID     int64         `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	From        PaymentStatus `json:"from"`
	To          PaymentStatus `json:"to"`
}
