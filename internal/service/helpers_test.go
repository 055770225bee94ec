package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store/memstore"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []interface{}
}

func (p *recordingPublisher) record(e interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishPaymentStatusChanged(ctx context.Context, e *models.PaymentStatusChangedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	repo      *memstore.Store
	kv        *memstore.KV
	publisher *recordingPublisher
	notifier  *Notifier
	carts     *CartService
	checkout  *CheckoutService
	orders    *OrderService
	payments  *PaymentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memstore.New()
	kv := memstore.NewKV()
	pub := &recordingPublisher{}
	notifier := NewNotifier(pub, time.Second)
	t.Cleanup(notifier.Close)
	inventory := NewInventoryAdjuster()

	env := &testEnv{
		repo:      repo,
		kv:        kv,
		publisher: pub,
		notifier:  notifier,
		carts:     NewCartService(repo),
		checkout:  NewCheckoutService(repo, inventory, kv, kv, notifier, CheckoutOptions{}),
		orders:    NewOrderService(repo, inventory, notifier),
		payments:  NewPaymentService(repo, notifier),
	}
	clock := func() time.Time { return testNow }
	env.carts.now = clock
	env.checkout.now = clock
	env.orders.now = clock
	return env
}

func (e *testEnv) product(t *testing.T, name string, price int64, stock int) *models.Product {
	t.Helper()
	return e.repo.PutProduct(models.Product{Name: name, SKU: name, Price: price, Stock: stock, Active: true})
}

func (e *testEnv) coupon(c models.Coupon) *models.Coupon {
	c.Active = true
	if c.ValidFrom.IsZero() {
		c.ValidFrom = testNow.Add(-24 * time.Hour)
	}
	if c.ValidUntil.IsZero() {
		c.ValidUntil = testNow.Add(24 * time.Hour)
	}
	return e.repo.PutCoupon(c)
}

func (e *testEnv) addToCart(t *testing.T, userID string, productID int64, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), userID, productID, qty)
	require.NoError(t, err)
}

func validAddress() models.ShippingAddress {
	return models.ShippingAddress{
		FullName:     "Asha Rao",
		Phone:        "+91 98450 00000",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "KA",
		PostalCode:   "560001",
		Country:      "IN",
	}
}

func placeRequest(userID string) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		UserID:          userID,
		ShippingAddress: validAddress(),
		PaymentMethod:   "cod",
	}
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

func (p *recordingPublisher) last() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func (e *testEnv) placeOrder(t *testing.T, userID string, productID int64, qty int) *models.Order {
	t.Helper()
	e.addToCart(t, userID, productID, qty)
	res, err := e.checkout.PlaceOrder(context.Background(), placeRequest(userID))
	require.NoError(t, err)
	e.notifier.Wait()
	return res.Order
}
