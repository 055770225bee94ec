package coupon

import (
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
)

// NormalizeCode returns the stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks c against a subtotal for userID at now and returns the
// discount it grants. c.Redemptions must hold userID's redemption records.
// A nil or inactive coupon is reported as CouponNotFound.
func Validate(c *models.Coupon, subtotal int64, userID string, now time.Time) (int64, error) {
	if c == nil || !c.Active {
		return 0, apperr.New(apperr.CouponNotFound, "coupon not found")
	}
	if now.Before(c.ValidFrom) {
		return 0, apperr.Newf(apperr.CouponNotYetActive, "coupon %s is valid from %s", c.Code, c.ValidFrom.Format(time.RFC3339))
	}
	if now.After(c.ValidUntil) {
		return 0, apperr.Newf(apperr.CouponExpired, "coupon %s expired on %s", c.Code, c.ValidUntil.Format(time.RFC3339))
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return 0, apperr.Newf(apperr.UsageLimitReached, "coupon %s has reached its usage limit", c.Code)
	}
	if c.UserUsageLimit > 0 && c.RedemptionsBy(userID) >= c.UserUsageLimit {
		return 0, apperr.Newf(apperr.UserUsageLimitReached, "coupon %s already used %d time(s)", c.Code, c.UserUsageLimit)
	}
	if subtotal < c.MinOrderAmount {
		return 0, apperr.Newf(apperr.MinimumOrderNotMet, "coupon %s requires a minimum order of %d", c.Code, c.MinOrderAmount)
	}
	return Discount(c, subtotal), nil
}

// Discount computes the discount c grants on subtotal without checking
// eligibility. Fixed discounts are returned verbatim.
func Discount(c *models.Coupon, subtotal int64) int64 {
	switch c.DiscountType {
	case models.DiscountPercentage:
		d := pricing.PercentOf(subtotal, c.DiscountValue)
		if c.MaxDiscount != nil && *c.MaxDiscount > 0 && d > *c.MaxDiscount {
			d = *c.MaxDiscount
		}
		return d
	case models.DiscountFixed:
		return int64(c.DiscountValue)
	}
	return 0
}
