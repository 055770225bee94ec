package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrderCouponBelowMinimumStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Mug", 100, 10)
	env.coupon(models.Coupon{Code: "FLAT500", DiscountType: models.DiscountFixed, DiscountValue: 500, MinOrderAmount: 2000})
	env.addToCart(t, "u1", p.ID, 2)

	req := placeRequest("u1")
	req.CouponCode = "flat500"
	res, err := env.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, int64(200), o.Subtotal)
	assert.Equal(t, int64(0), o.CouponDiscount)
	assert.Equal(t, int64(40), o.DeliveryCharge)
	assert.Equal(t, int64(240), o.Total)
	assert.Empty(t, o.CouponCode)
	require.NotNil(t, res.CouponWarning)
	assert.Equal(t, apperr.MinimumOrderNotMet, res.CouponWarning.Kind)

	assert.Equal(t, 0, env.repo.Coupon("FLAT500").UsedCount)
	assert.Equal(t, 8, env.repo.Product(p.ID).Stock)
	assert.Equal(t, 2, env.repo.Product(p.ID).Sold)
}

func TestPlaceOrderPercentageCoupon(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Kettle", 1000, 5)
	env.coupon(models.Coupon{Code: "WELCOME10", DiscountType: models.DiscountPercentage, DiscountValue: 10,
		MaxDiscount: int64Ptr(200), MinOrderAmount: 500, UserUsageLimit: 1})
	env.addToCart(t, "u1", p.ID, 1)

	req := placeRequest("u1")
	req.CouponCode = "WELCOME10"
	res, err := env.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, int64(1000), o.Subtotal)
	assert.Equal(t, int64(100), o.CouponDiscount)
	assert.Equal(t, int64(0), o.DeliveryCharge)
	assert.Equal(t, int64(900), o.Total)
	assert.Equal(t, "WELCOME10", o.CouponCode)
	assert.Nil(t, res.CouponWarning)

	c := env.repo.Coupon("WELCOME10")
	assert.Equal(t, 1, c.UsedCount)
	require.Len(t, c.Redemptions, 1)
	assert.Equal(t, o.ID, c.Redemptions[0].OrderID)
	assert.Equal(t, "u1", c.Redemptions[0].UserID)
}

func TestPlaceOrderFreezesOrder(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Lamp", 800, 5)
	env.addToCart(t, "u1", p.ID, 1)

	// Price changes after the item was added; the order uses the live price.
	updated := *env.repo.Product(p.ID)
	updated.DiscountPercent = 25
	env.repo.PutProduct(updated)

	res, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	require.NoError(t, err)

	o := res.Order
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Lamp", o.Items[0].Name)
	assert.Equal(t, int64(600), o.Items[0].Price)
	assert.Equal(t, models.OrderStatusPending, o.OrderStatus)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, models.PaymentMethodCOD, o.PaymentMethod)
	assert.Equal(t, testNow.AddDate(0, 0, 5), o.ExpectedDelivery)
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, models.OrderStatusPending, o.StatusHistory[0].Status)
	assert.Regexp(t, `^ORD-\d{14}-[0-9A-F]{12}$`, o.OrderNumber)

	cart, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, int64(40), cart.Total)
}

func TestPlaceOrderUsesCartCoupon(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Chair", 2500, 5)
	env.coupon(models.Coupon{Code: "FLAT500", DiscountType: models.DiscountFixed, DiscountValue: 500, MinOrderAmount: 2000})
	env.addToCart(t, "u1", p.ID, 1)
	_, err := env.carts.ApplyCoupon(context.Background(), "u1", "flat500")
	require.NoError(t, err)

	res, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, "FLAT500", res.Order.CouponCode)
	assert.Equal(t, int64(2000), res.Order.Total)
}

func TestPlaceOrderRechecksStock(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	env.addToCart(t, "u1", p.ID, 3)

	drained := *env.repo.Product(p.ID)
	drained.Stock = 2
	env.repo.PutProduct(drained)

	_, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InsufficientStock, e.Kind)
	assert.Equal(t, p.ID, e.ProductID)

	assert.Equal(t, 0, env.repo.OrderCount())
	assert.Equal(t, 2, env.repo.Product(p.ID).Stock)
	cart, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestPlaceOrderInactiveProduct(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	env.addToCart(t, "u1", p.ID, 1)

	inactive := *env.repo.Product(p.ID)
	inactive.Active = false
	env.repo.PutProduct(inactive)

	_, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	assert.True(t, apperr.IsKind(err, apperr.ProductUnavailable))
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)

	_, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	assert.True(t, apperr.IsKind(err, apperr.EmptyCart))

	env.addToCart(t, "u1", p.ID, 1)

	req := placeRequest("u1")
	req.ShippingAddress.City = ""
	req.ShippingAddress.PostalCode = "  "
	_, err = env.checkout.PlaceOrder(context.Background(), req)
	require.True(t, apperr.IsKind(err, apperr.IncompleteAddress))
	assert.Contains(t, err.Error(), "city")
	assert.Contains(t, err.Error(), "postal_code")

	req = placeRequest("u1")
	req.PaymentMethod = "cheque"
	_, err = env.checkout.PlaceOrder(context.Background(), req)
	assert.True(t, apperr.IsKind(err, apperr.InvalidPaymentMethod))

	assert.Equal(t, 5, env.repo.Product(p.ID).Stock)
	assert.Equal(t, 0, env.repo.OrderCount())
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	env.addToCart(t, "u1", p.ID, 1)

	req := placeRequest("u1")
	req.IdempotencyKey = "req-1"
	first, err := env.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, env.repo.OrderCount())
	assert.Equal(t, 4, env.repo.Product(p.ID).Stock)

	// The key is scoped to the user.
	env.addToCart(t, "u2", p.ID, 1)
	other := placeRequest("u2")
	other.IdempotencyKey = "req-1"
	third, err := env.checkout.PlaceOrder(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
}

func TestPlaceOrderCheckoutInProgress(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	env.addToCart(t, "u1", p.ID, 1)

	_, ok, err := env.kv.AcquireLock(context.Background(), "checkout:u1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	assert.True(t, apperr.IsKind(err, apperr.CheckoutInProgress))
	assert.Equal(t, 5, env.repo.Product(p.ID).Stock)
}

func TestPlaceOrderRetriesOrderNumberCollision(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 300, 5)
	require.NoError(t, env.repo.CreateOrder(context.Background(), &models.Order{OrderNumber: "ORD-TAKEN", UserID: "x"}))
	env.addToCart(t, "u1", p.ID, 1)

	numbers := []string{"ORD-TAKEN", "ORD-FRESH"}
	env.checkout.orderNumber = func(time.Time) string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}

	res, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, "ORD-FRESH", res.Order.OrderNumber)
	assert.Equal(t, 4, env.repo.Product(p.ID).Stock)
}

func TestConcurrentCheckoutsRedeemSingleUseCouponOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 1000, 10)
	env.coupon(models.Coupon{Code: "ONCE", DiscountType: models.DiscountFixed, DiscountValue: 100, UsageLimit: intPtr(1)})

	users := []string{"u1", "u2"}
	for _, u := range users {
		env.addToCart(t, u, p.ID, 1)
	}

	results := make([]*PlaceOrderResult, len(users))
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			req := placeRequest(u)
			req.CouponCode = "ONCE"
			results[i], errs[i] = env.checkout.PlaceOrder(context.Background(), req)
		}(i, u)
	}
	wg.Wait()

	redeemed, rejected := 0, 0
	for i := range users {
		require.NoError(t, errs[i])
		if results[i].Order.CouponCode == "ONCE" {
			redeemed++
		} else {
			require.NotNil(t, results[i].CouponWarning)
			assert.Equal(t, apperr.UsageLimitReached, results[i].CouponWarning.Kind)
			rejected++
		}
	}
	assert.Equal(t, 1, redeemed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, env.repo.Coupon("ONCE").UsedCount)
	assert.Equal(t, 8, env.repo.Product(p.ID).Stock)
}

// contendedCouponRepo makes the first redemptions fail as if another
// checkout had taken the last use between validation and the update.
type contendedCouponRepo struct {
	*memstore.Store
	mu       sync.Mutex
	failures int
	redeems  int
}

func (r *contendedCouponRepo) RunInTx(ctx context.Context, fn func(store.UnitOfWork) error) error {
	return r.Store.RunInTx(ctx, func(uow store.UnitOfWork) error {
		return fn(&contendedCouponUnit{UnitOfWork: uow, repo: r})
	})
}

type contendedCouponUnit struct {
	store.UnitOfWork
	repo *contendedCouponRepo
}

func (u *contendedCouponUnit) RedeemCoupon(ctx context.Context, red *models.CouponRedemption, userLimit int) error {
	u.repo.mu.Lock()
	u.repo.redeems++
	fail := u.repo.failures > 0
	if fail {
		u.repo.failures--
	}
	u.repo.mu.Unlock()
	if fail {
		return apperr.New(apperr.UsageLimitReached, "coupon usage limit reached")
	}
	return u.UnitOfWork.RedeemCoupon(ctx, red, userLimit)
}

func TestPlaceOrderRetriesWithoutCouponWhenRedemptionLost(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Chair", 2000, 4)
	env.coupon(models.Coupon{Code: "FLAT500", DiscountType: models.DiscountFixed, DiscountValue: 500,
		UsageLimit: intPtr(1)})
	env.addToCart(t, "u1", p.ID, 1)

	repo := &contendedCouponRepo{Store: env.repo, failures: 1}
	checkout := NewCheckoutService(repo, NewInventoryAdjuster(), env.kv, env.kv, env.notifier, CheckoutOptions{})
	checkout.now = func() time.Time { return testNow }

	req := placeRequest("u1")
	req.CouponCode = "FLAT500"
	res, err := checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	env.notifier.Wait()

	o := res.Order
	assert.Empty(t, o.CouponCode)
	assert.Equal(t, int64(0), o.CouponDiscount)
	assert.Equal(t, int64(2000), o.Subtotal)
	assert.Equal(t, o.Subtotal+o.DeliveryCharge, o.Total)
	require.NotNil(t, res.CouponWarning)
	assert.Equal(t, apperr.UsageLimitReached, res.CouponWarning.Kind)

	assert.Equal(t, 1, repo.redeems, "retry must not redeem again")
	assert.Equal(t, 3, env.repo.Product(p.ID).Stock)
	assert.Equal(t, 1, env.repo.Product(p.ID).Sold)
	assert.Equal(t, 1, env.repo.OrderCount())
	assert.Equal(t, 0, env.repo.Coupon("FLAT500").UsedCount)
	assert.Empty(t, env.repo.Coupon("FLAT500").Redemptions)

	cart, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Desk", 100, 3)

	const buyers = 8
	for i := 0; i < buyers; i++ {
		env.addToCart(t, userName(i), p.ID, 1)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.checkout.PlaceOrder(context.Background(), placeRequest(userName(i)))
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
				return
			}
			assert.True(t, apperr.IsKind(err, apperr.InsufficientStock), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, placed)
	assert.Equal(t, 0, env.repo.Product(p.ID).Stock)
	assert.Equal(t, 3, env.repo.Product(p.ID).Sold)
}

func TestNotificationFailureDoesNotFailOrder(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker unavailable")
	p := env.product(t, "Desk", 300, 5)
	env.addToCart(t, "u1", p.ID, 1)

	res, err := env.checkout.PlaceOrder(context.Background(), placeRequest("u1"))
	require.NoError(t, err)
	assert.NotZero(t, res.Order.ID)

	env.notifier.Wait()
	assert.Equal(t, 1, env.publisher.count())
}

func userName(i int) string {
	return "buyer-" + string(rune('a'+i))
}
