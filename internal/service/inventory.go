package service

import (
	"context"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// InventoryAdjuster reserves and releases stock through the store's atomic
// conditional updates. It runs inside the caller's unit of work.
type InventoryAdjuster struct {
	logger *zap.Logger
}

// NewInventoryAdjuster creates a new inventory adjuster
func NewInventoryAdjuster() *InventoryAdjuster {
	return &InventoryAdjuster{logger: util.GetLogger()}
}

// Reserve takes quantity units of productID out of stock. It fails with
// InsufficientStock, leaving stock unchanged, when fewer units remain.
func (a *InventoryAdjuster) Reserve(ctx context.Context, uow store.UnitOfWork, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity < 1 {
		return apperr.New(apperr.InvalidQuantity, "quantity must be at least 1")
	}

	ok, err := uow.ReserveStock(ctx, productID, quantity)
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return err
	}
	if !ok {
		util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		a.logger.Info("Insufficient stock at reservation",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity))
		return apperr.ForProduct(apperr.InsufficientStock, productID,
			"insufficient stock for product %d", productID)
	}
	return nil
}

// Release returns quantity units of productID to stock.
func (a *InventoryAdjuster) Release(ctx context.Context, uow store.UnitOfWork, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.Release")
	defer span.End()

	if err := uow.ReleaseStock(ctx, productID, quantity); err != nil {
		util.RecordError(span, err)
		return err
	}
	util.InventoryReleasedUnits.Add(float64(quantity))
	return nil
}
