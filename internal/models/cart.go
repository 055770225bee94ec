package models

import (
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/pricing"
)

// CartTotals are derived from the items and the applied coupon. They are
// overwritten by Recalculate and never edited directly.
type CartTotals struct {
	TotalItems     int   `db:"total_items" json:"total_items"`
	Subtotal       int64 `db:"subtotal" json:"subtotal"`
	Discount       int64 `db:"discount" json:"discount"`
	CouponDiscount int64 `db:"coupon_discount" json:"coupon_discount"`
	DeliveryCharge int64 `db:"delivery_charge" json:"delivery_charge"`
	Total          int64 `db:"total" json:"total"`
}

// Cart is a user's pending purchase. One cart per user.
type Cart struct {
	ID         int64  `db:"id" json:"id"`
	UserID     string `db:"user_id" json:"user_id"`
	CouponCode string `db:"coupon_code" json:"coupon_code,omitempty"`
	CartTotals `json:"totals"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Items []CartItem `db:"-" json:"items"`
}

// CartItem is one product line. Price is the discounted unit price captured
// when the item was added.
type CartItem struct {
	ID        int64     `db:"id" json:"-"`
	CartID    int64     `db:"cart_id" json:"-"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Price     int64     `db:"price" json:"price"`
	AddedAt   time.Time `db:"added_at" json:"added_at"`

	Product *ProductSummary `db:"-" json:"product,omitempty"`
}

// Item returns the line for productID, or nil.
func (c *Cart) Item(productID int64) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// ProductIDs returns the product ids in the cart.
func (c *Cart) ProductIDs() []int64 {
	ids := make([]int64, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// IsEmpty reports whether the cart has no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// AddItem adds quantity units of p. An existing line is combined with the new
// quantity and its price snapshot refreshed.
func (c *Cart) AddItem(p *Product, quantity int, now time.Time) error {
	if quantity < 1 {
		return apperr.New(apperr.InvalidQuantity, "quantity must be at least 1")
	}
	if p == nil || !p.Active {
		return unavailable(p)
	}

	if it := c.Item(p.ID); it != nil {
		combined := it.Quantity + quantity
		if combined > p.Stock {
			return insufficient(p, combined)
		}
		it.Quantity = combined
		it.Price = p.FinalPrice()
		c.Recalculate()
		return nil
	}

	if quantity > p.Stock {
		return insufficient(p, quantity)
	}
	c.Items = append(c.Items, CartItem{
		CartID:    c.ID,
		ProductID: p.ID,
		Quantity:  quantity,
		Price:     p.FinalPrice(),
		AddedAt:   now,
	})
	c.Recalculate()
	return nil
}

// UpdateItem sets the absolute quantity of an existing line.
func (c *Cart) UpdateItem(p *Product, productID int64, quantity int) error {
	if quantity < 1 {
		return apperr.New(apperr.InvalidQuantity, "quantity must be at least 1")
	}
	it := c.Item(productID)
	if it == nil {
		return apperr.Newf(apperr.ItemNotFound, "product %d is not in the cart", productID)
	}
	if p == nil || !p.Active {
		return unavailable(p)
	}
	if quantity > p.Stock {
		return insufficient(p, quantity)
	}
	it.Quantity = quantity
	c.Recalculate()
	return nil
}

// RemoveItem drops the line for productID. Removing an absent product is a no-op.
func (c *Cart) RemoveItem(productID int64) {
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	c.Recalculate()
}

// Clear empties the cart and drops the applied coupon.
func (c *Cart) Clear() {
	c.Items = nil
	c.CouponCode = ""
	c.CouponDiscount = 0
	c.Recalculate()
}

// ApplyCoupon stores a coupon discount snapshot. Usage is not committed.
func (c *Cart) ApplyCoupon(code string, discount int64) {
	c.CouponCode = code
	c.CouponDiscount = discount
	c.Recalculate()
}

// RemoveCoupon drops the applied coupon.
func (c *Cart) RemoveCoupon() {
	c.CouponCode = ""
	c.CouponDiscount = 0
	c.Recalculate()
}

// Lines returns the priced lines using the stored price snapshots.
func (c *Cart) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(c.Items))
	for i, it := range c.Items {
		lines[i] = pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
	}
	return lines
}

// Recalculate overwrites the cached totals.
func (c *Cart) Recalculate() {
	if c.CouponCode == "" {
		c.CouponDiscount = 0
	}
	b := pricing.Calculate(c.Lines(), 0, c.CouponDiscount)
	c.CartTotals = CartTotals{
		TotalItems:     b.TotalItems,
		Subtotal:       b.Subtotal,
		Discount:       b.Discount,
		CouponDiscount: b.CouponDiscount,
		DeliveryCharge: b.DeliveryCharge,
		Total:          b.Total,
	}
}

func unavailable(p *Product) error {
	if p == nil {
		return apperr.New(apperr.ProductUnavailable, "product is not available")
	}
	return apperr.ForProduct(apperr.ProductUnavailable, p.ID, "product %q is not available", p.Name)
}

func insufficient(p *Product, requested int) error {
	return apperr.ForProduct(apperr.InsufficientStock, p.ID,
		"insufficient stock for %q: requested %d, available %d", p.Name, requested, p.Stock)
}
