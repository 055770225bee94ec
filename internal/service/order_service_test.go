package service

import (
	"context"
	"testing"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOrderRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	order := env.placeOrder(t, "u1", p.ID, 2)
	require.Equal(t, 3, env.repo.Product(p.ID).Stock)

	cancelled, err := env.orders.CancelOrder(context.Background(), "u1", order.ID, "")
	require.NoError(t, err)
	env.notifier.Wait()

	assert.Equal(t, models.OrderStatusCancelled, cancelled.OrderStatus)
	assert.Equal(t, "Cancelled by customer", cancelled.CancelReason)
	assert.Equal(t, 5, env.repo.Product(p.ID).Stock)
	assert.Equal(t, 0, env.repo.Product(p.ID).Sold)

	n := 0
	for _, h := range cancelled.StatusHistory {
		if h.Status == models.OrderStatusCancelled {
			n++
		}
	}
	assert.Equal(t, 1, n)
	require.Len(t, cancelled.StatusHistory, 2)

	ev, ok := env.publisher.last().(*models.OrderCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, order.ID, ev.OrderID)
	assert.False(t, ev.Refunded)

	_, err = env.orders.CancelOrder(context.Background(), "u1", order.ID, "again")
	assert.True(t, apperr.IsKind(err, apperr.OrderNotCancellable))
	assert.Equal(t, 5, env.repo.Product(p.ID).Stock)
}

func TestCancelShippedOrderFails(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	order := env.placeOrder(t, "u1", p.ID, 1)

	for _, s := range []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusProcessing, models.OrderStatusShipped} {
		_, err := env.orders.AdvanceStatus(context.Background(), order.ID, s, "")
		require.NoError(t, err)
	}

	_, err := env.orders.CancelOrder(context.Background(), "u1", order.ID, "changed my mind")
	assert.True(t, apperr.IsKind(err, apperr.OrderNotCancellable))
	assert.Equal(t, 4, env.repo.Product(p.ID).Stock)
}

func TestCancelOtherUsersOrder(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	order := env.placeOrder(t, "u1", p.ID, 1)

	_, err := env.orders.CancelOrder(context.Background(), "u2", order.ID, "")
	assert.True(t, apperr.IsKind(err, apperr.OrderNotFound))

	_, err = env.orders.GetOrder(context.Background(), "u2", order.ID)
	assert.True(t, apperr.IsKind(err, apperr.OrderNotFound))

	_, err = env.orders.TrackOrder(context.Background(), "u2", order.OrderNumber)
	assert.True(t, apperr.IsKind(err, apperr.OrderNotFound))

	_, err = env.orders.GetOrder(context.Background(), "u1", 9999)
	assert.True(t, apperr.IsKind(err, apperr.OrderNotFound))
}

func TestCancelPaidOrderRefunds(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	order := env.placeOrder(t, "u1", p.ID, 1)

	_, err := env.payments.UpdatePaymentStatus(context.Background(), order.ID, "paid", models.JSONMap{"txn": "T1"})
	require.NoError(t, err)

	cancelled, err := env.orders.CancelOrder(context.Background(), "u1", order.ID, "wrong size")
	require.NoError(t, err)
	env.notifier.Wait()

	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, "wrong size", cancelled.PaymentDetails["refund_reason"])
	assert.Equal(t, "T1", cancelled.PaymentDetails["txn"])
	assert.Equal(t, "wrong size", cancelled.CancelReason)

	ev, ok := env.publisher.last().(*models.OrderCancelledEvent)
	require.True(t, ok)
	assert.True(t, ev.Refunded)
}

func TestAdvanceStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	order := env.placeOrder(t, "u1", p.ID, 1)
	ctx := context.Background()

	_, err := env.orders.AdvanceStatus(ctx, order.ID, "teleported", "")
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	_, err = env.orders.AdvanceStatus(ctx, order.ID, models.OrderStatusDelivered, "")
	assert.True(t, apperr.IsKind(err, apperr.InvalidTransition))

	_, err = env.orders.AdvanceStatus(ctx, order.ID, models.OrderStatusReturned, "")
	assert.True(t, apperr.IsKind(err, apperr.InvalidTransition))

	_, err = env.orders.AdvanceStatus(ctx, 9999, models.OrderStatusConfirmed, "")
	assert.True(t, apperr.IsKind(err, apperr.OrderNotFound))

	updated, err := env.orders.AdvanceStatus(ctx, order.ID, models.OrderStatusConfirmed, "payment verified")
	require.NoError(t, err)
	env.notifier.Wait()
	assert.Equal(t, models.OrderStatusConfirmed, updated.OrderStatus)
	require.Len(t, updated.StatusHistory, 2)
	assert.Equal(t, "payment verified", updated.StatusHistory[1].Comment)
	assert.Equal(t, testNow, updated.StatusHistory[1].CreatedAt)

	ev, ok := env.publisher.last().(*models.OrderStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusPending, ev.From)
	assert.Equal(t, models.OrderStatusConfirmed, ev.To)

	cancelled, err := env.orders.AdvanceStatus(ctx, order.ID, models.OrderStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled by store", cancelled.CancelReason)
	assert.Equal(t, 5, env.repo.Product(p.ID).Stock)

	_, err = env.orders.AdvanceStatus(ctx, order.ID, models.OrderStatusConfirmed, "")
	assert.True(t, apperr.IsKind(err, apperr.InvalidTransition))
}

func TestTrackAndListOrders(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 10)
	first := env.placeOrder(t, "u1", p.ID, 1)
	second := env.placeOrder(t, "u1", p.ID, 2)
	env.placeOrder(t, "u2", p.ID, 1)

	orders, err := env.orders.ListOrders(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)

	none, err := env.orders.ListOrders(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	tr, err := env.orders.TrackOrder(context.Background(), "u1", first.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, first.OrderNumber, tr.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, tr.OrderStatus)
	assert.Equal(t, models.PaymentStatusPending, tr.PaymentStatus)
	assert.Equal(t, first.ExpectedDelivery, tr.ExpectedDelivery)
	assert.Len(t, tr.StatusHistory, 1)

	_, err = env.orders.TrackOrder(context.Background(), "u1", "ORD-MISSING")
	assert.True(t, apperr.IsKind(err, apperr.OrderNotFound))
}
