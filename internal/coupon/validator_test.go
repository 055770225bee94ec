package coupon

import (
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func welcome10() *models.Coupon {
	return &models.Coupon{
		ID:             1,
		Code:           "WELCOME10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  10,
		MaxDiscount:    int64Ptr(200),
		MinOrderAmount: 500,
		UserUsageLimit: 1,
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidUntil:     now.Add(24 * time.Hour),
		Active:         true,
	}
}

func TestValidatePercentage(t *testing.T) {
	d, err := Validate(welcome10(), 1000, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(100), d)

	d, err = Validate(welcome10(), 5000, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(200), d, "capped at max discount")
}

func TestValidateFixedIsNotCappedBySubtotal(t *testing.T) {
	c := welcome10()
	c.DiscountType = models.DiscountFixed
	c.DiscountValue = 800
	c.MaxDiscount = nil
	c.MinOrderAmount = 0

	d, err := Validate(c, 600, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(800), d)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *models.Coupon)
		subtotal int64
		kind     apperr.Kind
	}{
		{"inactive", func(c *models.Coupon) { c.Active = false }, 1000, apperr.CouponNotFound},
		{"not yet active", func(c *models.Coupon) { c.ValidFrom = now.Add(time.Hour) }, 1000, apperr.CouponNotYetActive},
		{"expired", func(c *models.Coupon) { c.ValidUntil = now.Add(-time.Second) }, 1000, apperr.CouponExpired},
		{"global limit", func(c *models.Coupon) { c.UsageLimit = intPtr(5); c.UsedCount = 5 }, 1000, apperr.UsageLimitReached},
		{"user limit", func(c *models.Coupon) {
			c.Redemptions = []models.CouponRedemption{{UserID: "u1"}}
		}, 1000, apperr.UserUsageLimitReached},
		{"minimum order", func(c *models.Coupon) {}, 499, apperr.MinimumOrderNotMet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := welcome10()
			tt.mutate(c)
			d, err := Validate(c, tt.subtotal, "u1", now)
			assert.Equal(t, int64(0), d)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	_, err := Validate(nil, 1000, "u1", now)
	assert.Equal(t, apperr.CouponNotFound, apperr.KindOf(err))
}

func TestValidateOtherUsersRedemptionsIgnored(t *testing.T) {
	c := welcome10()
	c.Redemptions = []models.CouponRedemption{{UserID: "u2"}}

	_, err := Validate(c, 1000, "u1", now)
	assert.NoError(t, err)
}

func TestValidateUnlimitedPerUser(t *testing.T) {
	c := welcome10()
	c.UserUsageLimit = 0
	c.Redemptions = []models.CouponRedemption{{UserID: "u1"}, {UserID: "u1"}}

	_, err := Validate(c, 1000, "u1", now)
	assert.NoError(t, err)
}

func TestMinimumOrderNotMetScenario(t *testing.T) {
	flat := &models.Coupon{
		Code:           "FLAT500",
		DiscountType:   models.DiscountFixed,
		DiscountValue:  500,
		MinOrderAmount: 2000,
		ValidFrom:      now.Add(-time.Hour),
		ValidUntil:     now.Add(time.Hour),
		Active:         true,
	}

	_, err := Validate(flat, 200, "u1", now)
	assert.Equal(t, apperr.MinimumOrderNotMet, apperr.KindOf(err))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "WELCOME10", NormalizeCode("  welcome10 "))
}
