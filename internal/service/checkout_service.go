package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/coupon"
	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxCheckoutAttempts bounds the internal retries after a lost coupon race or
// an order number collision.
const maxCheckoutAttempts = 3

// CheckoutOptions tunes order placement.
type CheckoutOptions struct {
	ExpectedDeliveryDays int
	LockTTL              time.Duration
	IdempotencyTTL       time.Duration
}

// CheckoutService turns a cart into an order
type CheckoutService struct {
	repo        store.Repository
	inventory   *InventoryAdjuster
	locker      Locker
	idempotency IdempotencyCache
	notifier    *Notifier
	opts        CheckoutOptions
	logger      *zap.Logger
	now         func() time.Time
	orderNumber func(time.Time) string
}

// NewCheckoutService creates a new checkout service. locker and idempotency
// may be nil.
func NewCheckoutService(
	repo store.Repository,
	inventory *InventoryAdjuster,
	locker Locker,
	idempotency IdempotencyCache,
	notifier *Notifier,
	opts CheckoutOptions,
) *CheckoutService {
	if opts.ExpectedDeliveryDays <= 0 {
		opts.ExpectedDeliveryDays = 5
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &CheckoutService{
		repo:        repo,
		inventory:   inventory,
		locker:      locker,
		idempotency: idempotency,
		notifier:    notifier,
		opts:        opts,
		logger:      util.GetLogger(),
		now:         time.Now,
		orderNumber: NewOrderNumber,
	}
}

// PlaceOrderRequest represents a request to place an order from the cart
type PlaceOrderRequest struct {
	UserID          string                 `json:"-"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
	CouponCode      string                 `json:"coupon_code,omitempty"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty"`
}

// Warning is a non-blocking problem reported alongside a successful order.
type Warning struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func warningFrom(err error) *Warning {
	if err == nil {
		return nil
	}
	if e, ok := apperr.As(err); ok {
		return &Warning{Kind: e.Kind, Message: e.Message}
	}
	return &Warning{Kind: apperr.Internal, Message: "coupon could not be applied"}
}

// PlaceOrderResult is the outcome of a successful checkout.
type PlaceOrderResult struct {
	Order *models.Order `json:"order"`
	// CouponWarning explains why a requested coupon was not applied.
	CouponWarning *Warning `json:"coupon_warning,omitempty"`
	// Replayed is set when an earlier order was returned for the same
	// idempotency key.
	Replayed bool `json:"replayed,omitempty"`
}

// PlaceOrder validates the cart, prices it with current product prices and,
// in one transaction, creates the order, reserves stock, redeems the coupon
// and clears the cart.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", req.UserID))

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	res, err := s.placeOrder(ctx, req)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		util.RecordError(span, err)
		return nil, err
	}
	return res, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := validateAddress(req.ShippingAddress); err != nil {
		return nil, err
	}
	method := models.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if !method.Valid() {
		return nil, apperr.Newf(apperr.InvalidPaymentMethod, "unsupported payment method %q", req.PaymentMethod)
	}

	var key string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = req.UserID + ":" + k
		existing, err := s.findByIdempotencyKey(ctx, key, req.UserID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", k),
				zap.Int64("order_id", existing.ID))
			return &PlaceOrderResult{Order: existing, Replayed: true}, nil
		}
	}

	release, err := s.lock(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		out         *checkoutOutcome
		skipCoupon  bool
		raceWarning error
	)
	for attempt := 1; ; attempt++ {
		out, err = s.checkoutOnce(ctx, req, method, key, skipCoupon)
		if err == nil {
			break
		}
		if attempt >= maxCheckoutAttempts {
			return nil, err
		}

		switch {
		case !skipCoupon && (apperr.IsKind(err, apperr.UsageLimitReached) || apperr.IsKind(err, apperr.UserUsageLimitReached)):
			s.logger.Info("Coupon redemption lost a race, retrying without coupon",
				zap.String("user_id", req.UserID),
				zap.String("reason", string(apperr.KindOf(err))))
			skipCoupon = true
			raceWarning = err
		case apperr.IsKind(err, apperr.Conflict):
			if key != "" {
				existing, lookupErr := s.findByIdempotencyKey(ctx, key, req.UserID)
				if lookupErr != nil {
					return nil, lookupErr
				}
				if existing != nil {
					return &PlaceOrderResult{Order: existing, Replayed: true}, nil
				}
			}
			s.logger.Warn("Order number collision, retrying", zap.Int("attempt", attempt))
		default:
			return nil, err
		}
	}
	order, warning := out.order, out.couponErr
	if warning == nil {
		warning = raceWarning
	}

	if key != "" && s.idempotency != nil {
		if err := s.idempotency.SetIdempotencyKey(ctx, key, order.ID, s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	util.OrdersPlacedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	if order.CouponCode != "" {
		util.CouponRedemptionsTotal.Inc()
	}
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
		zap.Int64("total", order.Total))

	s.notifier.OrderPlaced(order)

	return &PlaceOrderResult{Order: order, CouponWarning: warningFrom(warning)}, nil
}

type checkoutOutcome struct {
	order *models.Order
	// couponErr is a coupon validation failure that did not block the order.
	couponErr error
}

// checkoutOnce runs one checkout transaction.
func (s *CheckoutService) checkoutOnce(ctx context.Context, req *PlaceOrderRequest, method models.PaymentMethod, key string, skipCoupon bool) (*checkoutOutcome, error) {
	var (
		order   *models.Order
		warning error
	)

	err := s.repo.RunInTx(ctx, func(uow store.UnitOfWork) error {
		now := s.now()

		cart, err := uow.EnsureCart(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to load cart: %w", err)
		}
		if cart.IsEmpty() {
			return apperr.New(apperr.EmptyCart, "cart is empty")
		}

		items, err := s.freezeItems(ctx, uow, cart)
		if err != nil {
			return err
		}
		lines := make([]pricing.Line, len(items))
		for i, it := range items {
			lines[i] = pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
		}
		subtotal := pricing.Calculate(lines, 0, 0).Subtotal

		var applied *models.Coupon
		var couponDiscount int64
		code := coupon.NormalizeCode(req.CouponCode)
		if code == "" {
			code = cart.CouponCode
		}
		if code != "" && !skipCoupon {
			applied, couponDiscount, warning = s.checkCoupon(ctx, uow, code, subtotal, req.UserID, now)
		}

		b := pricing.Calculate(lines, 0, couponDiscount)
		order = &models.Order{
			OrderNumber:      s.orderNumber(now),
			UserID:           req.UserID,
			ShippingAddress:  req.ShippingAddress,
			PaymentMethod:    method,
			PaymentStatus:    models.PaymentStatusPending,
			OrderStatus:      models.OrderStatusPending,
			Subtotal:         b.Subtotal,
			Discount:         b.Discount,
			DeliveryCharge:   b.DeliveryCharge,
			CouponDiscount:   b.CouponDiscount,
			Total:            b.Total,
			ExpectedDelivery: now.AddDate(0, 0, s.opts.ExpectedDeliveryDays),
			PaymentDetails:   models.JSONMap{},
			IdempotencyKey:   key,
			Items:            items,
			StatusHistory: []models.StatusEntry{{
				Status:    models.OrderStatusPending,
				Comment:   "Order placed",
				CreatedAt: now,
			}},
		}
		if applied != nil {
			order.CouponCode = applied.Code
		}

		if err := uow.CreateOrder(ctx, order); err != nil {
			return err
		}

		for _, it := range order.Items {
			if err := s.inventory.Reserve(ctx, uow, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		if applied != nil {
			redemption := &models.CouponRedemption{
				CouponID:   applied.ID,
				UserID:     req.UserID,
				OrderID:    order.ID,
				RedeemedAt: now,
			}
			if err := uow.RedeemCoupon(ctx, redemption, applied.UserUsageLimit); err != nil {
				return err
			}
		}

		cart.Clear()
		if err := uow.SaveCart(ctx, cart); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &checkoutOutcome{order: order, couponErr: warning}, nil
}

// freezeItems re-checks every cart line against the live product and copies
// it at the current discounted price.
func (s *CheckoutService) freezeItems(ctx context.Context, uow store.UnitOfWork, cart *models.Cart) ([]models.OrderItem, error) {
	products, err := uow.GetProductsByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		p, ok := byID[line.ProductID]
		if !ok || !p.Active {
			return nil, apperr.ForProduct(apperr.ProductUnavailable, line.ProductID,
				"product %d is no longer available", line.ProductID)
		}
		if p.Stock < line.Quantity {
			return nil, apperr.ForProduct(apperr.InsufficientStock, p.ID,
				"insufficient stock for %q: requested %d, available %d", p.Name, line.Quantity, p.Stock)
		}
		items = append(items, models.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.FinalPrice(),
			Quantity:  line.Quantity,
		})
	}
	return items, nil
}

// checkCoupon validates code for the order. A failure is returned as a
// warning and the order proceeds without a discount.
func (s *CheckoutService) checkCoupon(ctx context.Context, uow store.UnitOfWork, code string, subtotal int64, userID string, now time.Time) (*models.Coupon, int64, error) {
	c, err := loadCoupon(ctx, uow, code, userID)
	if err == nil {
		var discount int64
		discount, err = coupon.Validate(c, subtotal, userID, now)
		if err == nil {
			return c, discount, nil
		}
		util.CouponRejectionsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
	}

	s.logger.Info("Coupon not applied at checkout",
		zap.String("user_id", userID),
		zap.String("code", code),
		zap.Error(err))
	return nil, 0, err
}

func (s *CheckoutService) findByIdempotencyKey(ctx context.Context, key, userID string) (*models.Order, error) {
	if s.idempotency != nil {
		orderID, ok, err := s.idempotency.GetIdempotencyKey(ctx, key)
		if err != nil {
			s.logger.Warn("Idempotency cache unavailable", zap.Error(err))
		} else if ok {
			order, err := s.repo.GetOrderByID(ctx, orderID)
			if err == nil && order.UserID == userID {
				return order, nil
			}
		}
	}

	order, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return order, nil
}

// lock takes the per-user checkout lock. If the lock service errors, checkout
// proceeds unlocked.
func (s *CheckoutService) lock(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := "checkout:" + userID
	token, ok, err := s.locker.AcquireLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable, continuing without it", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, apperr.New(apperr.CheckoutInProgress, "another checkout is in progress for this user")
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLock(releaseCtx, key, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("user_id", userID), zap.Error(err))
		}
	}, nil
}
