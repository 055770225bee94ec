package worker

import (
	"context"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Notification is one message handed to the delivery channel.
type Notification struct {
	EventID   string
	EventType string
	Recipient string
	Subject   string
	Body      string
}

// Dispatcher delivers notifications. Delivery is best effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogDispatcher writes notifications to the log instead of sending them.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: util.GetLogger()}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.Info("Notification",
		zap.String("event_id", n.EventID),
		zap.String("event_type", n.EventType),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}

// ProcessedEvents records which events have already been handled.
type ProcessedEvents interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NotificationWorker turns order events into notifications. Each event id is
// dispatched at most once.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	processed    ProcessedEvents
	dispatcher   Dispatcher
	logger       *zap.Logger
}

// NewNotificationWorker creates a worker. consumer may be nil when events are
// delivered in-process through Handler.
func NewNotificationWorker(consumer *broker.Consumer, processed ProcessedEvents, dispatcher Dispatcher) *NotificationWorker {
	w := &NotificationWorker{
		consumer:   consumer,
		processed:  processed,
		dispatcher: dispatcher,
		logger:     util.GetLogger(),
	}

	eh := broker.NewEventHandler()
	eh.OnOrderPlaced(w.handleOrderPlaced)
	eh.OnOrderCancelled(w.handleOrderCancelled)
	eh.OnOrderStatusChanged(w.handleOrderStatusChanged)
	eh.OnPaymentStatusChanged(w.handlePaymentStatusChanged)
	w.eventHandler = eh

	return w
}

// Handler returns the event router used by the worker.
func (w *NotificationWorker) Handler() *broker.EventHandler {
	return w.eventHandler
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return fmt.Errorf("notification worker has no consumer")
	}
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	if w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	o := e.Order
	if o == nil {
		return fmt.Errorf("order placed event %s has no order", e.EventID)
	}
	return w.deliver(ctx, e.BaseEvent, Notification{
		Recipient: e.Recipient,
		Subject:   fmt.Sprintf("Order %s confirmed", o.OrderNumber),
		Body: fmt.Sprintf("Thank you for your order. %d item(s), total %d, expected delivery %s.",
			len(o.Items), o.Total, o.ExpectedDelivery.Format("2006-01-02")),
	})
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	body := fmt.Sprintf("Your order %s was cancelled.", e.OrderNumber)
	if e.Reason != "" {
		body += " Reason: " + e.Reason + "."
	}
	if e.Refunded {
		body += " A refund has been issued."
	}
	return w.deliver(ctx, e.BaseEvent, Notification{
		Recipient: e.Recipient,
		Subject:   fmt.Sprintf("Order %s cancelled", e.OrderNumber),
		Body:      body,
	})
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return w.deliver(ctx, e.BaseEvent, Notification{
		Recipient: e.Recipient,
		Subject:   fmt.Sprintf("Order %s is %s", e.OrderNumber, e.To),
		Body:      fmt.Sprintf("Your order %s moved from %s to %s.", e.OrderNumber, e.From, e.To),
	})
}

func (w *NotificationWorker) handlePaymentStatusChanged(ctx context.Context, e *models.PaymentStatusChangedEvent) error {
	return w.deliver(ctx, e.BaseEvent, Notification{
		Recipient: e.Recipient,
		Subject:   fmt.Sprintf("Payment %s for order %s", e.To, e.OrderNumber),
		Body:      fmt.Sprintf("Payment for order %s changed from %s to %s.", e.OrderNumber, e.From, e.To),
	})
}

func (w *NotificationWorker) deliver(ctx context.Context, base models.BaseEvent, n Notification) error {
	logger := w.logger.With(zap.String("event_id", base.EventID), zap.String("event_type", base.EventType))

	processed, err := w.processed.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check processed event: %w", err)
	}
	if processed {
		logger.Info("Event already processed, skipping")
		return nil
	}

	n.EventID = base.EventID
	n.EventType = base.EventType
	if err := w.dispatcher.Dispatch(ctx, n); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(base.EventType).Inc()
		logger.Warn("Notification dispatch failed", zap.Error(err))
		// Failed deliveries are not retried.
	} else {
		util.NotificationsSentTotal.WithLabelValues(base.EventType).Inc()
	}

	if err := w.processed.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}
