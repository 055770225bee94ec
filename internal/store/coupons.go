package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const couponColumns = `id, code, discount_type, discount_value, max_discount, min_order_amount, usage_limit,
	used_count, user_usage_limit, valid_from, valid_until, active, created_at, updated_at`

// GetCouponForUser loads a coupon by code (case-insensitive) with userID's
// redemption records.
func (q *queries) GetCouponForUser(ctx context.Context, code, userID string) (*models.Coupon, error) {
	var c models.Coupon
	err := sqlx.GetContext(ctx, q.ext, &c,
		"SELECT "+couponColumns+" FROM coupons WHERE code = UPPER($1)", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := sqlx.SelectContext(ctx, q.ext, &c.Redemptions,
		`SELECT id, coupon_id, user_id, order_id, redeemed_at FROM coupon_redemptions
		 WHERE coupon_id = $1 AND user_id = $2 ORDER BY redeemed_at`,
		c.ID, userID); err != nil {
		return nil, fmt.Errorf("failed to load coupon redemptions: %w", err)
	}
	return &c, nil
}

// RedeemCoupon consumes one use of the coupon for r.UserID. The usage counter
// only moves while below usage_limit, and the redemption row is only written
// while the user is below userLimit (0 means unlimited). Run inside a
// transaction so a per-user rejection also discards the increment.
func (q *queries) RedeemCoupon(ctx context.Context, r *models.CouponRedemption, userLimit int) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
		 WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`,
		r.CouponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return apperr.New(apperr.UsageLimitReached, "coupon usage limit reached")
	}

	err = sqlx.GetContext(ctx, q.ext, &r.ID,
		`INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, redeemed_at)
		 SELECT $1::bigint, $2::text, $3::bigint, $4::timestamptz
		 WHERE $5::int <= 0
		    OR (SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2) < $5::int
		 RETURNING id`,
		r.CouponID, r.UserID, r.OrderID, r.RedeemedAt, userLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.UserUsageLimitReached, "coupon already used by this user")
	}
	if err != nil {
		return fmt.Errorf("failed to record coupon redemption: %w", err)
	}
	return nil
}
