package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const orderColumns = `id, order_number, user_id, shipping_address, payment_method, payment_status, order_status,
	subtotal, discount, delivery_charge, tax, coupon_code, coupon_discount, total, expected_delivery,
	payment_details, cancel_reason, COALESCE(idempotency_key, '') AS idempotency_key, created_at, updated_at`

// CreateOrder inserts the order with its items and initial status history.
// A duplicate order number or idempotency key is reported as apperr.Conflict.
func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, shipping_address, payment_method, payment_status,
			order_status, subtotal, discount, delivery_charge, tax, coupon_code, coupon_discount, total,
			expected_delivery, payment_details, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULLIF($16, ''))
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.ext, order, query,
		order.OrderNumber, order.UserID, order.ShippingAddress, order.PaymentMethod, order.PaymentStatus,
		order.OrderStatus, order.Subtotal, order.Discount, order.DeliveryCharge, order.Tax, order.CouponCode,
		order.CouponDiscount, order.Total, order.ExpectedDelivery, order.PaymentDetails, order.IdempotencyKey)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.Wrap(apperr.Conflict, "order already exists", err)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := sqlx.GetContext(ctx, q.ext, &item.ID,
			`INSERT INTO order_items (order_id, product_id, name, image, price, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			item.OrderID, item.ProductID, item.Name, item.Image, item.Price, item.Quantity); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	for i := range order.StatusHistory {
		entry := &order.StatusHistory[i]
		entry.OrderID = order.ID
		if err := q.appendStatus(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) appendStatus(ctx context.Context, entry *models.StatusEntry) error {
	err := sqlx.GetContext(ctx, q.ext, &entry.ID,
		`INSERT INTO order_status_history (order_id, status, comment, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		entry.OrderID, entry.Status, entry.Comment, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (q *queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return q.getOrder(ctx, "id = $1", id)
}

// GetOrderByNumber retrieves an order by its order number
func (q *queries) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return q.getOrder(ctx, "order_number = $1", number)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (q *queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return q.getOrder(ctx, "idempotency_key = $1", key)
}

func (q *queries) getOrder(ctx context.Context, where string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.ext, &order, "SELECT "+orderColumns+" FROM orders WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := q.loadOrderDetails(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (q *queries) loadOrderDetails(ctx context.Context, order *models.Order) error {
	if err := sqlx.SelectContext(ctx, q.ext, &order.Items,
		"SELECT id, order_id, product_id, name, image, price, quantity FROM order_items WHERE order_id = $1 ORDER BY id",
		order.ID); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q.ext, &order.StatusHistory,
		"SELECT id, order_id, status, comment, created_at FROM order_status_history WHERE order_id = $1 ORDER BY id",
		order.ID); err != nil {
		return fmt.Errorf("failed to load status history: %w", err)
	}
	return nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (q *queries) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	if err := sqlx.SelectContext(ctx, q.ext, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID); err != nil {
		return nil, err
	}
	for i := range orders {
		if err := q.loadOrderDetails(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// TransitionOrderStatus moves the order to entry.Status only while its current
// status is one of from, and appends entry to the history. It reports false
// when the order was not in an allowed state.
func (q *queries) TransitionOrderStatus(ctx context.Context, orderID int64, from []models.OrderStatus, entry models.StatusEntry) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	res, err := q.ext.ExecContext(ctx,
		`UPDATE orders SET order_status = $1,
			cancel_reason = CASE WHEN $1 = 'cancelled' THEN $4 ELSE cancel_reason END,
			updated_at = NOW()
		 WHERE id = $2 AND order_status = ANY($3)`,
		entry.Status, orderID, pq.Array(allowed), entry.Comment)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	entry.OrderID = orderID
	if err := q.appendStatus(ctx, &entry); err != nil {
		return false, err
	}
	return true, nil
}

// UpdatePaymentStatus sets the payment status while it still equals from and
// merges details into payment_details.
func (q *queries) UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, details models.JSONMap) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1, payment_details = payment_details || $2::jsonb, updated_at = NOW()
		 WHERE id = $3 AND payment_status = $4`,
		to, details, orderID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsEventProcessed checks if an event has been processed
func (q *queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q *queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.ext.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
