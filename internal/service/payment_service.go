package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending: {models.PaymentStatusPaid, models.PaymentStatusFailed},
	models.PaymentStatusFailed:  {models.PaymentStatusPaid, models.PaymentStatusPending},
	models.PaymentStatusPaid:    {models.PaymentStatusRefunded},
}

func canMovePayment(from, to models.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentService records payment status reported by the gateway. The
// gateway itself is external.
type PaymentService struct {
	repo     store.Repository
	notifier *Notifier
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo store.Repository, notifier *Notifier) *PaymentService {
	return &PaymentService{
		repo:     repo,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// UpdatePaymentStatus sets the payment status of an order and merges details
// into its payment_details. A payment reported paid on a cancelled order is
// recorded as refunded. Repeating the current status is a no-op.
func (ps *PaymentService) UpdatePaymentStatus(ctx context.Context, orderID int64, status string, details models.JSONMap) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.UpdatePaymentStatus")
	defer span.End()

	to := models.PaymentStatus(strings.ToLower(strings.TrimSpace(status)))
	if !to.Valid() {
		return nil, apperr.Newf(apperr.InvalidPaymentStatus, "unknown payment status %q", status)
	}

	var (
		order   *models.Order
		from    models.PaymentStatus
		changed bool
	)
	err := ps.repo.RunInTx(ctx, func(uow store.UnitOfWork) error {
		current, err := uow.GetOrderByID(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Newf(apperr.OrderNotFound, "order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		from = current.PaymentStatus

		target := to
		merged := models.JSONMap{}
		for k, v := range details {
			merged[k] = v
		}
		if to == models.PaymentStatusPaid && current.OrderStatus == models.OrderStatusCancelled {
			target = models.PaymentStatusRefunded
			merged["refund_reason"] = "payment received for cancelled order"
		}

		if target == from {
			order = current
			return nil
		}
		if !canMovePayment(from, target) && !(target == models.PaymentStatusRefunded && to == models.PaymentStatusPaid) {
			return apperr.Newf(apperr.InvalidTransition, "cannot move payment from %s to %s", from, target)
		}

		ok, err := uow.UpdatePaymentStatus(ctx, orderID, from, target, merged)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.Conflict, "payment status changed concurrently")
		}
		changed = true

		order, err = uow.GetOrderByID(ctx, orderID)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if changed {
		util.PaymentStatusUpdatesTotal.WithLabelValues(string(order.PaymentStatus)).Inc()
		ps.logger.Info("Payment status updated",
			zap.Int64("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(order.PaymentStatus)))
		ps.notifier.PaymentStatusChanged(order, from)
	}
	return order, nil
}
