package models

import "time"

// DiscountType is how a coupon computes its discount.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a named discount rule. Code is stored uppercase.
type Coupon struct {
	ID             int64        `db:"id" json:"id"`
	Code           string       `db:"code" json:"code"`
	DiscountType   DiscountType `db:"discount_type" json:"discount_type"`
	DiscountValue  float64      `db:"discount_value" json:"discount_value"`
	MaxDiscount    *int64       `db:"max_discount" json:"max_discount,omitempty"`
	MinOrderAmount int64        `db:"min_order_amount" json:"min_order_amount"`
	UsageLimit     *int         `db:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount      int          `db:"used_count" json:"used_count"`
	UserUsageLimit int          `db:"user_usage_limit" json:"user_usage_limit"`
	ValidFrom      time.Time    `db:"valid_from" json:"valid_from"`
	ValidUntil     time.Time    `db:"valid_until" json:"valid_until"`
	Active         bool         `db:"active" json:"active"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`

	// Redemptions holds the redemption records loaded for one user.
	Redemptions []CouponRedemption `db:"-" json:"-"`
}

// RedemptionsBy counts the loaded redemptions made by userID.
func (c *Coupon) RedemptionsBy(userID string) int {
	n := 0
	for _, r := range c.Redemptions {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

// CouponRedemption records one use of a coupon by a user for an order.
type CouponRedemption struct {
	ID         int64     `db:"id" json:"id"`
	CouponID   int64     `db:"coupon_id" json:"coupon_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	RedeemedAt time.Time `db:"redeemed_at" json:"redeemed_at"`
}
