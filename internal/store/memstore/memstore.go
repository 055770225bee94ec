// Package memstore is an in-process implementation of store.Repository and
// of the checkout lock and idempotency cache. It backs the "memory" database
// driver and the service and API tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

type state struct {
	nextID int64

	products     map[int64]*models.Product
	carts        map[string]*models.Cart
	coupons      map[int64]*models.Coupon
	couponCodes  map[string]int64
	redemptions  []models.CouponRedemption
	orders       map[int64]*models.Order
	orderNumbers map[string]int64
	orderKeys    map[string]int64
	processed    map[string]string
}

func newState() *state {
	return &state{
		products:     make(map[int64]*models.Product),
		carts:        make(map[string]*models.Cart),
		coupons:      make(map[int64]*models.Coupon),
		couponCodes:  make(map[string]int64),
		orders:       make(map[int64]*models.Order),
		orderNumbers: make(map[string]int64),
		orderKeys:    make(map[string]int64),
		processed:    make(map[string]string),
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store keeps all state behind one mutex. RunInTx holds the mutex for the
// whole function and undoes its writes when it fails.
type Store struct {
	view
	mu sync.Mutex
	st *state
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	s := &Store{st: newState()}
	s.view = view{s: s}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// RunInTx runs fn with exclusive access. Any error rolls the state back.
func (s *Store) RunInTx(ctx context.Context, fn func(store.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &view{s: s, locked: true, undo: []func(){}}
	nextID := s.st.nextID
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.st.nextID = nextID
		return err
	}
	return nil
}

// PutProduct seeds a product, assigning an ID when p.ID is zero.
func (s *Store) PutProduct(p models.Product) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.st.id()
	} else if p.ID > s.st.nextID {
		s.st.nextID = p.ID
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.st.products[p.ID] = &p
	out := p
	return &out
}

// PutCoupon seeds a coupon. The code is stored uppercase.
func (s *Store) PutCoupon(c models.Coupon) *models.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.st.id()
	}
	c.Code = strings.ToUpper(c.Code)
	c.Redemptions = nil
	s.st.coupons[c.ID] = &c
	s.st.couponCodes[c.Code] = c.ID
	return copyCoupon(&c)
}

// Product returns a copy of the stored product, or nil.
func (s *Store) Product(id int64) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.st.products[id]; ok {
		out := *p
		return &out
	}
	return nil
}

// Coupon returns a copy of the stored coupon with all its redemptions, or nil.
func (s *Store) Coupon(code string) *models.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.couponCodes[strings.ToUpper(code)]
	if !ok {
		return nil
	}
	c := copyCoupon(s.st.coupons[id])
	for _, r := range s.st.redemptions {
		if r.CouponID == id {
			c.Redemptions = append(c.Redemptions, r)
		}
	}
	return c
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

// view implements store.UnitOfWork. A locked view runs under RunInTx and
// must not take the mutex again; it records how to revert each write.
type view struct {
	s      *Store
	locked bool
	undo   []func()
}

func (v *view) onRollback(fn func()) {
	if v.locked {
		v.undo = append(v.undo, fn)
	}
}

func (v *view) touchProduct(id int64) {
	if !v.locked {
		return
	}
	if p, ok := v.s.st.products[id]; ok {
		prev := *p
		v.onRollback(func() { v.s.st.products[id] = &prev })
	}
}

func (v *view) touchCart(userID string) {
	if !v.locked {
		return
	}
	if c, ok := v.s.st.carts[userID]; ok {
		prev := copyCart(c)
		v.onRollback(func() { v.s.st.carts[userID] = prev })
		return
	}
	v.onRollback(func() { delete(v.s.st.carts, userID) })
}

func (v *view) touchOrder(id int64) {
	if !v.locked {
		return
	}
	if o, ok := v.s.st.orders[id]; ok {
		prev := copyOrder(o)
		v.onRollback(func() { v.s.st.orders[id] = prev })
	}
}

func (v *view) guard() func() {
	if v.locked {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v *view) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	defer v.guard()()
	p, ok := v.s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (v *view) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	defer v.guard()()
	products := []models.Product{}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if p, ok := v.s.st.products[id]; ok && !seen[id] {
			seen[id] = true
			products = append(products, *p)
		}
	}
	return products, nil
}

func (v *view) ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	defer v.guard()()
	p, ok := v.s.st.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	v.touchProduct(productID)
	p.Stock -= quantity
	p.Sold += quantity
	p.UpdatedAt = time.Now()
	return true, nil
}

func (v *view) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	defer v.guard()()
	p, ok := v.s.st.products[productID]
	if !ok {
		return nil
	}
	v.touchProduct(productID)
	p.Stock += quantity
	p.Sold -= quantity
	if p.Sold < 0 {
		p.Sold = 0
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (v *view) EnsureCart(ctx context.Context, userID string) (*models.Cart, error) {
	defer v.guard()()
	c, ok := v.s.st.carts[userID]
	if !ok {
		v.touchCart(userID)
		now := time.Now()
		c = &models.Cart{ID: v.s.st.id(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		c.Recalculate()
		v.s.st.carts[userID] = c
	}
	return copyCart(c), nil
}

func (v *view) SaveCart(ctx context.Context, cart *models.Cart) error {
	defer v.guard()()
	if _, ok := v.s.st.carts[cart.UserID]; !ok {
		return store.ErrNotFound
	}
	v.touchCart(cart.UserID)
	cart.UpdatedAt = time.Now()
	for i := range cart.Items {
		cart.Items[i].ID = v.s.st.id()
		cart.Items[i].CartID = cart.ID
	}
	saved := copyCart(cart)
	for i := range saved.Items {
		saved.Items[i].Product = nil
	}
	v.s.st.carts[cart.UserID] = saved
	return nil
}

func (v *view) GetCouponForUser(ctx context.Context, code, userID string) (*models.Coupon, error) {
	defer v.guard()()
	id, ok := v.s.st.couponCodes[strings.ToUpper(code)]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := copyCoupon(v.s.st.coupons[id])
	for _, r := range v.s.st.redemptions {
		if r.CouponID == id && r.UserID == userID {
			c.Redemptions = append(c.Redemptions, r)
		}
	}
	return c, nil
}

func (v *view) RedeemCoupon(ctx context.Context, r *models.CouponRedemption, userLimit int) error {
	defer v.guard()()
	c, ok := v.s.st.coupons[r.CouponID]
	if !ok {
		return store.ErrNotFound
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return apperr.New(apperr.UsageLimitReached, "coupon usage limit reached")
	}
	if userLimit > 0 {
		used := 0
		for _, existing := range v.s.st.redemptions {
			if existing.CouponID == r.CouponID && existing.UserID == r.UserID {
				used++
			}
		}
		if used >= userLimit {
			return apperr.New(apperr.UserUsageLimitReached, "coupon already used by this user")
		}
	}

	if v.locked {
		prev, n := *c, len(v.s.st.redemptions)
		v.onRollback(func() {
			*c = prev
			v.s.st.redemptions = v.s.st.redemptions[:n]
		})
	}
	c.UsedCount++
	c.UpdatedAt = time.Now()
	r.ID = v.s.st.id()
	v.s.st.redemptions = append(v.s.st.redemptions, *r)
	return nil
}

func (v *view) CreateOrder(ctx context.Context, order *models.Order) error {
	defer v.guard()()
	if _, dup := v.s.st.orderNumbers[order.OrderNumber]; dup {
		return apperr.New(apperr.Conflict, "order already exists")
	}
	if order.IdempotencyKey != "" {
		if _, dup := v.s.st.orderKeys[order.IdempotencyKey]; dup {
			return apperr.New(apperr.Conflict, "order already exists")
		}
	}

	now := time.Now()
	order.ID = v.s.st.id()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.PaymentDetails == nil {
		order.PaymentDetails = models.JSONMap{}
	}
	for i := range order.Items {
		order.Items[i].ID = v.s.st.id()
		order.Items[i].OrderID = order.ID
	}
	for i := range order.StatusHistory {
		order.StatusHistory[i].ID = v.s.st.id()
		order.StatusHistory[i].OrderID = order.ID
	}

	id, number, key := order.ID, order.OrderNumber, order.IdempotencyKey
	v.onRollback(func() {
		delete(v.s.st.orders, id)
		delete(v.s.st.orderNumbers, number)
		if key != "" {
			delete(v.s.st.orderKeys, key)
		}
	})
	v.s.st.orders[order.ID] = copyOrder(order)
	v.s.st.orderNumbers[order.OrderNumber] = order.ID
	if order.IdempotencyKey != "" {
		v.s.st.orderKeys[order.IdempotencyKey] = order.ID
	}
	return nil
}

func (v *view) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	defer v.guard()()
	return v.order(id)
}

func (v *view) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	defer v.guard()()
	id, ok := v.s.st.orderNumbers[number]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.order(id)
}

func (v *view) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	defer v.guard()()
	id, ok := v.s.st.orderKeys[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.order(id)
}

func (v *view) order(id int64) (*models.Order, error) {
	o, ok := v.s.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrder(o), nil
}

func (v *view) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	defer v.guard()()
	orders := []models.Order{}
	for _, o := range v.s.st.orders {
		if o.UserID == userID {
			orders = append(orders, *copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, nil
}

func (v *view) TransitionOrderStatus(ctx context.Context, orderID int64, from []models.OrderStatus, entry models.StatusEntry) (bool, error) {
	defer v.guard()()
	o, ok := v.s.st.orders[orderID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if o.OrderStatus == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	v.touchOrder(orderID)
	o.OrderStatus = entry.Status
	if entry.Status == models.OrderStatusCancelled {
		o.CancelReason = entry.Comment
	}
	o.UpdatedAt = time.Now()
	entry.ID = v.s.st.id()
	entry.OrderID = orderID
	o.StatusHistory = append(o.StatusHistory, entry)
	return true, nil
}

func (v *view) UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, details models.JSONMap) (bool, error) {
	defer v.guard()()
	o, ok := v.s.st.orders[orderID]
	if !ok || o.PaymentStatus != from {
		return false, nil
	}
	v.touchOrder(orderID)
	o.PaymentStatus = to
	if o.PaymentDetails == nil {
		o.PaymentDetails = models.JSONMap{}
	}
	for k, val := range details {
		o.PaymentDetails[k] = val
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (v *view) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	defer v.guard()()
	_, ok := v.s.st.processed[eventID]
	return ok, nil
}

func (v *view) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	defer v.guard()()
	if _, ok := v.s.st.processed[eventID]; !ok {
		v.onRollback(func() { delete(v.s.st.processed, eventID) })
		v.s.st.processed[eventID] = eventType
	}
	return nil
}

func copyCart(c *models.Cart) *models.Cart {
	out := *c
	out.Items = make([]models.CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}

func copyCoupon(c *models.Coupon) *models.Coupon {
	out := *c
	if c.MaxDiscount != nil {
		v := *c.MaxDiscount
		out.MaxDiscount = &v
	}
	if c.UsageLimit != nil {
		v := *c.UsageLimit
		out.UsageLimit = &v
	}
	out.Redemptions = nil
	return &out
}

func copyOrder(o *models.Order) *models.Order {
	out := *o
	out.Items = append([]models.OrderItem(nil), o.Items...)
	out.StatusHistory = append([]models.StatusEntry(nil), o.StatusHistory...)
	if o.PaymentDetails != nil {
		out.PaymentDetails = make(models.JSONMap, len(o.PaymentDetails))
		for k, v := range o.PaymentDetails {
			out.PaymentDetails[k] = v
		}
	}
	return &out
}
