package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const cartColumns = `id, user_id, coupon_code, total_items, subtotal, discount, coupon_discount,
	delivery_charge, total, created_at, updated_at`

// EnsureCart returns the user's cart, creating it on first use. Inside a
// transaction the cart row stays locked until commit.
func (q *queries) EnsureCart(ctx context.Context, userID string) (*models.Cart, error) {
	if _, err := q.ext.ExecContext(ctx,
		"INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	var cart models.Cart
	if err := sqlx.GetContext(ctx, q.ext, &cart,
		"SELECT "+cartColumns+" FROM carts WHERE user_id = $1 FOR UPDATE", userID); err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if err := sqlx.SelectContext(ctx, q.ext, &cart.Items,
		"SELECT id, cart_id, product_id, quantity, price, added_at FROM cart_items WHERE cart_id = $1 ORDER BY id",
		cart.ID); err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	return &cart, nil
}

// SaveCart writes the cached totals and replaces the item rows. Callers run
// it inside RunInTx.
func (q *queries) SaveCart(ctx context.Context, cart *models.Cart) error {
	err := sqlx.GetContext(ctx, q.ext, &cart.UpdatedAt,
		`UPDATE carts SET coupon_code = $1, total_items = $2, subtotal = $3, discount = $4,
			coupon_discount = $5, delivery_charge = $6, total = $7, updated_at = NOW()
		 WHERE id = $8 RETURNING updated_at`,
		cart.CouponCode, cart.TotalItems, cart.Subtotal, cart.Discount,
		cart.CouponDiscount, cart.DeliveryCharge, cart.Total, cart.ID)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}

	if _, err := q.ext.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cart.ID); err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}

	for i := range cart.Items {
		item := &cart.Items[i]
		item.CartID = cart.ID
		if err := sqlx.GetContext(ctx, q.ext, &item.ID,
			`INSERT INTO cart_items (cart_id, product_id, quantity, price, added_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			item.CartID, item.ProductID, item.Quantity, item.Price, item.AddedAt); err != nil {
			return fmt.Errorf("failed to save cart item %d: %w", item.ProductID, err)
		}
	}
	return nil
}
