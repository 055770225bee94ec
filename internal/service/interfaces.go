package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// Locker is a distributed mutex keyed by name.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyCache remembers which order an idempotency key produced.
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (orderID int64, ok bool, err error)
	SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// EventPublisher publishes order domain events.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentStatusChanged(ctx context.Context, event *models.PaymentStatusChangedEvent) error
}
