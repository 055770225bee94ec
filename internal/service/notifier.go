package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

var (
	errNotifyQueueFull = errors.New("notification queue full")
	errNotifierClosed  = errors.New("notifier closed")
)

// notifyQueueSize bounds the events waiting for the publisher.
const notifyQueueSize = 1024

type notifyJob struct {
	base    models.BaseEvent
	orderID int64
	fn      func(ctx context.Context) error
}

// Notifier publishes events in the background with a bounded timeout.
// One worker drains the queue, so events reach the publisher in call order.
// Failures are logged and counted, never returned to the caller.
type Notifier struct {
	publisher EventPublisher
	timeout   time.Duration
	jobs      chan notifyJob
	wg        sync.WaitGroup
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewNotifier creates a notifier. A nil publisher disables publishing.
func NewNotifier(publisher EventPublisher, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	n := &Notifier{
		publisher: publisher,
		timeout:   timeout,
		logger:    util.GetLogger(),
	}
	if publisher != nil {
		n.jobs = make(chan notifyJob, notifyQueueSize)
		go n.run()
	}
	return n
}

// Wait blocks until every queued publish has finished. Callers must not
// publish concurrently with Wait; shutdown uses Close.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close stops accepting events, drains the queue and stops the worker.
// Events raised after Close are dropped and logged.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	if n.jobs != nil {
		close(n.jobs)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) run() {
	for job := range n.jobs {
		n.deliver(job)
		n.wg.Done()
	}
}

func (n *Notifier) deliver(job notifyJob) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := job.fn(ctx); err != nil {
		n.fail(job, err)
	}
}

func (n *Notifier) fail(job notifyJob, err error) {
	util.NotificationsFailedTotal.WithLabelValues(job.base.EventType).Inc()
	n.logger.Error("Failed to publish event",
		zap.String("event_type", job.base.EventType),
		zap.String("event_id", job.base.EventID),
		zap.Int64("order_id", job.orderID),
		zap.Error(err))
}

func (n *Notifier) publish(base models.BaseEvent, orderID int64, fn func(ctx context.Context) error) {
	if n == nil || n.publisher == nil {
		return
	}

	job := notifyJob{base: base, orderID: orderID, fn: fn}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.fail(job, errNotifierClosed)
		return
	}
	n.wg.Add(1)
	select {
	case n.jobs <- job:
		n.mu.Unlock()
	default:
		n.mu.Unlock()
		n.wg.Done()
		n.fail(job, errNotifyQueueFull)
	}
}

// OrderPlaced publishes ORDER_PLACED for order.
func (n *Notifier) OrderPlaced(order *models.Order) {
	event := &models.OrderPlacedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPlaced, time.Now()),
		Recipient: order.UserID,
		Order:     order,
	}
	n.publish(event.BaseEvent, order.ID, func(ctx context.Context) error {
		return n.publisher.PublishOrderPlaced(ctx, event)
	})
}

// OrderCancelled publishes ORDER_CANCELLED for order.
func (n *Notifier) OrderCancelled(order *models.Order, refunded bool) {
	event := &models.OrderCancelledEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCancelled, time.Now()),
		Recipient:   order.UserID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      order.CancelReason,
		Refunded:    refunded,
		Items:       order.Items,
		Payment:     order.PaymentStatus,
	}
	n.publish(event.BaseEvent, order.ID, func(ctx context.Context) error {
		return n.publisher.PublishOrderCancelled(ctx, event)
	})
}

// OrderStatusChanged publishes ORDER_STATUS_CHANGED for order.
func (n *Notifier) OrderStatusChanged(order *models.Order, from models.OrderStatus, comment string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderStatusChanged, time.Now()),
		Recipient:   order.UserID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		From:        from,
		To:          order.OrderStatus,
		Comment:     comment,
	}
	n.publish(event.BaseEvent, order.ID, func(ctx context.Context) error {
		return n.publisher.PublishOrderStatusChanged(ctx, event)
	})
}

// PaymentStatusChanged publishes PAYMENT_STATUS_CHANGED for order.
func (n *Notifier) PaymentStatusChanged(order *models.Order, from models.PaymentStatus) {
	event := &models.PaymentStatusChangedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypePaymentStatusChanged, time.Now()),
		Recipient:   order.UserID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		From:        from,
		To:          order.PaymentStatus,
	}
	n.publish(event.BaseEvent, order.ID, func(ctx context.Context) error {
		return n.publisher.PublishPaymentStatusChanged(ctx, event)
	})
}
