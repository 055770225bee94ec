package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// OrderService handles the order lifecycle after checkout
type OrderService struct {
	repo      store.Repository
	inventory *InventoryAdjuster
	notifier  *Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, inventory *InventoryAdjuster, notifier *Notifier) *OrderService {
	return &OrderService{
		repo:      repo,
		inventory: inventory,
		notifier:  notifier,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// GetOrder retrieves one of the user's orders by ID
func (s *OrderService) GetOrder(ctx context.Context, userID string, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	return ownedBy(userID, order, err)
}

// ListOrders returns the user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// TrackOrder returns the status projection of one of the user's orders.
func (s *OrderService) TrackOrder(ctx context.Context, userID, orderNumber string) (*models.Tracking, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TrackOrder")
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, orderNumber)
	order, err = ownedBy(userID, order, err)
	if err != nil {
		return nil, err
	}
	return order.Tracking(), nil
}

// CancelOrder cancels a pending, confirmed or processing order, returns its
// items to stock and refunds a paid payment, all in one transaction.
func (s *OrderService) CancelOrder(ctx context.Context, userID string, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	if reason == "" {
		reason = "Cancelled by customer"
	}

	var order *models.Order
	var refunded bool
	err := s.repo.RunInTx(ctx, func(uow store.UnitOfWork) error {
		current, err := uow.GetOrderByID(ctx, orderID)
		current, err = ownedBy(userID, current, err)
		if err != nil {
			return err
		}
		order, refunded, err = s.cancelInTx(ctx, uow, current, reason)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.cancelled(order, refunded)
	return order, nil
}

// AdvanceStatus moves an order along the fulfilment lifecycle. Cancelling
// through here releases stock like CancelOrder. returned is not reachable.
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID int64, to models.OrderStatus, comment string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AdvanceStatus")
	defer span.End()

	if !to.Valid() {
		return nil, apperr.Newf(apperr.InvalidInput, "unknown order status %q", to)
	}

	var (
		order    *models.Order
		from     models.OrderStatus
		refunded bool
	)
	err := s.repo.RunInTx(ctx, func(uow store.UnitOfWork) error {
		current, err := uow.GetOrderByID(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Newf(apperr.OrderNotFound, "order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		from = current.OrderStatus

		if to == models.OrderStatusReturned || !models.CanTransition(from, to) {
			return apperr.Newf(apperr.InvalidTransition, "cannot move order from %s to %s", from, to)
		}

		if to == models.OrderStatusCancelled {
			if comment == "" {
				comment = "Cancelled by store"
			}
			order, refunded, err = s.cancelInTx(ctx, uow, current, comment)
			return err
		}

		ok, err := uow.TransitionOrderStatus(ctx, orderID, []models.OrderStatus{from}, models.StatusEntry{
			Status:    to,
			Comment:   comment,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.Conflict, "order status changed concurrently")
		}

		order, err = uow.GetOrderByID(ctx, orderID)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if to == models.OrderStatusCancelled {
		s.cancelled(order, refunded)
		return order, nil
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	s.notifier.OrderStatusChanged(order, from, comment)
	return order, nil
}

// cancelInTx transitions order to cancelled, releases every item and
// refunds a paid payment. It reports whether a refund was recorded.
func (s *OrderService) cancelInTx(ctx context.Context, uow store.UnitOfWork, order *models.Order, reason string) (*models.Order, bool, error) {
	if !order.OrderStatus.Cancellable() {
		return nil, false, apperr.Newf(apperr.OrderNotCancellable,
			"order %s cannot be cancelled in status %s", order.OrderNumber, order.OrderStatus)
	}

	now := s.now()
	ok, err := uow.TransitionOrderStatus(ctx, order.ID, models.CancellableStatuses, models.StatusEntry{
		Status:    models.OrderStatusCancelled,
		Comment:   reason,
		CreatedAt: now,
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, apperr.Newf(apperr.OrderNotCancellable, "order %s can no longer be cancelled", order.OrderNumber)
	}

	for _, it := range order.Items {
		if err := s.inventory.Release(ctx, uow, it.ProductID, it.Quantity); err != nil {
			return nil, false, fmt.Errorf("failed to release stock for product %d: %w", it.ProductID, err)
		}
	}

	refunded := false
	if order.PaymentStatus == models.PaymentStatusPaid {
		refunded, err = uow.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid, models.PaymentStatusRefunded,
			models.JSONMap{"refund_reason": reason, "refunded_at": now.UTC().Format(time.RFC3339)})
		if err != nil {
			return nil, false, err
		}
	}

	updated, err := uow.GetOrderByID(ctx, order.ID)
	if err != nil {
		return nil, false, err
	}
	return updated, refunded, nil
}

func (s *OrderService) cancelled(order *models.Order, refunded bool) {
	util.OrdersCancelledTotal.Inc()
	util.OrderStatusTransitionsTotal.WithLabelValues(string(models.OrderStatusCancelled)).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Bool("refunded", refunded))
	s.notifier.OrderCancelled(order, refunded)
}

// ownedBy maps a lookup result to OrderNotFound when the order is missing or
// belongs to a different user.
func ownedBy(userID string, order *models.Order, err error) (*models.Order, error) {
	if errors.Is(err, store.ErrNotFound) || (err == nil && order.UserID != userID) {
		return nil, apperr.New(apperr.OrderNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}
