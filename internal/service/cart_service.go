package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/coupon"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// CartService handles cart business logic
type CartService struct {
	repo   store.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository) *CartService {
	return &CartService{
		repo:   repo,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// GetCart returns the user's cart with live product summaries.
func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := s.repo.EnsureCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.attachProducts(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem adds quantity units of productID, combining with an existing line.
func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	return s.mutate(ctx, userID, true, func(uow store.UnitOfWork, cart *models.Cart) error {
		if quantity < 1 {
			return apperr.New(apperr.InvalidQuantity, "quantity must be at least 1")
		}
		product, err := lookupProduct(ctx, uow, productID)
		if err != nil {
			return err
		}
		return cart.AddItem(product, quantity, s.now())
	})
}

// UpdateItem sets the quantity of a product already in the cart.
func (s *CartService) UpdateItem(ctx context.Context, userID string, productID int64, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	return s.mutate(ctx, userID, true, func(uow store.UnitOfWork, cart *models.Cart) error {
		if quantity < 1 {
			return apperr.New(apperr.InvalidQuantity, "quantity must be at least 1")
		}
		if cart.Item(productID) == nil {
			return apperr.Newf(apperr.ItemNotFound, "product %d is not in the cart", productID)
		}
		product, err := lookupProduct(ctx, uow, productID)
		if err != nil {
			return err
		}
		return cart.UpdateItem(product, productID, quantity)
	})
}

// RemoveItem drops a product from the cart. Absent products are ignored.
func (s *CartService) RemoveItem(ctx context.Context, userID string, productID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	return s.mutate(ctx, userID, true, func(uow store.UnitOfWork, cart *models.Cart) error {
		cart.RemoveItem(productID)
		return nil
	})
}

// Clear empties the cart and drops its coupon.
func (s *CartService) Clear(ctx context.Context, userID string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	return s.mutate(ctx, userID, false, func(uow store.UnitOfWork, cart *models.Cart) error {
		cart.Clear()
		return nil
	})
}

// ApplyCoupon validates code against the cart and stores the discount
// snapshot. Usage is only committed at checkout.
func (s *CartService) ApplyCoupon(ctx context.Context, userID, code string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ApplyCoupon")
	defer span.End()

	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, apperr.New(apperr.InvalidInput, "coupon code is required")
	}

	return s.mutate(ctx, userID, false, func(uow store.UnitOfWork, cart *models.Cart) error {
		if cart.IsEmpty() {
			return apperr.New(apperr.EmptyCart, "cart is empty")
		}
		discount, err := validateCoupon(ctx, uow, code, cart.Subtotal, userID, s.now())
		if err != nil {
			return err
		}
		cart.ApplyCoupon(code, discount)
		s.logger.Info("Coupon applied to cart",
			zap.String("user_id", userID),
			zap.String("code", code),
			zap.Int64("discount", discount))
		return nil
	})
}

// RemoveCoupon drops the applied coupon.
func (s *CartService) RemoveCoupon(ctx context.Context, userID string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveCoupon")
	defer span.End()

	return s.mutate(ctx, userID, false, func(uow store.UnitOfWork, cart *models.Cart) error {
		cart.RemoveCoupon()
		return nil
	})
}

// mutate loads the cart in a transaction, applies fn and saves it. With
// revalidate set, an applied coupon is checked again against the new
// subtotal and dropped when it no longer holds.
func (s *CartService) mutate(ctx context.Context, userID string, revalidate bool, fn func(store.UnitOfWork, *models.Cart) error) (*models.Cart, error) {
	var cart *models.Cart
	err := s.repo.RunInTx(ctx, func(uow store.UnitOfWork) error {
		c, err := uow.EnsureCart(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load cart: %w", err)
		}
		if err := fn(uow, c); err != nil {
			return err
		}
		if revalidate && c.CouponCode != "" {
			s.revalidateCoupon(ctx, uow, c)
		}
		if err := uow.SaveCart(ctx, c); err != nil {
			return fmt.Errorf("failed to save cart: %w", err)
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachProducts(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) revalidateCoupon(ctx context.Context, uow store.UnitOfWork, cart *models.Cart) {
	discount, err := validateCoupon(ctx, uow, cart.CouponCode, cart.Subtotal, cart.UserID, s.now())
	if err != nil {
		s.logger.Info("Dropping coupon that no longer applies",
			zap.String("user_id", cart.UserID),
			zap.String("code", cart.CouponCode),
			zap.String("reason", string(apperr.KindOf(err))))
		cart.RemoveCoupon()
		return
	}
	cart.ApplyCoupon(cart.CouponCode, discount)
}

func (s *CartService) attachProducts(ctx context.Context, cart *models.Cart) error {
	if cart.IsEmpty() {
		return nil
	}
	products, err := s.repo.GetProductsByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return fmt.Errorf("failed to load cart products: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for i := range cart.Items {
		if p, ok := byID[cart.Items[i].ProductID]; ok {
			cart.Items[i].Product = p.Summary()
		}
	}
	return nil
}

// lookupProduct returns nil without error for a missing product so the
// cart reports it as unavailable.
func lookupProduct(ctx context.Context, uow store.UnitOfWork, productID int64) (*models.Product, error) {
	p, err := uow.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", productID, err)
	}
	return p, nil
}

// validateCoupon loads code for userID and validates it against subtotal.
func validateCoupon(ctx context.Context, uow store.UnitOfWork, code string, subtotal int64, userID string, now time.Time) (int64, error) {
	c, err := loadCoupon(ctx, uow, code, userID)
	if err != nil {
		return 0, err
	}
	discount, err := coupon.Validate(c, subtotal, userID, now)
	if err != nil {
		util.CouponRejectionsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return 0, err
	}
	return discount, nil
}

func loadCoupon(ctx context.Context, uow store.UnitOfWork, code, userID string) (*models.Coupon, error) {
	c, err := uow.GetCouponForUser(ctx, code, userID)
	if errors.Is(err, store.ErrNotFound) {
		util.CouponRejectionsTotal.WithLabelValues(string(apperr.CouponNotFound)).Inc()
		return nil, apperr.Newf(apperr.CouponNotFound, "coupon %s not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	return c, nil
}
