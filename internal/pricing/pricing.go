package pricing

import "github.com/shopspring/decimal"

const (
	// FreeShippingThreshold is the subtotal from which delivery is free.
	FreeShippingThreshold int64 = 499
	// DeliveryCharge applies below FreeShippingThreshold.
	DeliveryCharge int64 = 40
)

// Line is a unit price and quantity pair.
type Line struct {
	UnitPrice int64
	Quantity  int
}

// Breakdown is the result of pricing a set of lines.
type Breakdown struct {
	TotalItems     int   `json:"total_items"`
	Subtotal       int64 `json:"subtotal"`
	Discount       int64 `json:"discount"`
	CouponDiscount int64 `json:"coupon_discount"`
	DeliveryCharge int64 `json:"delivery_charge"`
	Total          int64 `json:"total"`
}

// Calculate prices lines with an order level discount and a coupon discount.
// The total never goes below zero.
func Calculate(lines []Line, discount, couponDiscount int64) Breakdown {
	b := Breakdown{
		Discount:       discount,
		CouponDiscount: couponDiscount,
	}
	for _, l := range lines {
		b.TotalItems += l.Quantity
		b.Subtotal += l.UnitPrice * int64(l.Quantity)
	}

	b.DeliveryCharge = DeliveryFor(b.Subtotal)
	b.Total = b.Subtotal - discount - couponDiscount + b.DeliveryCharge
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}

// DeliveryFor returns the delivery charge for a subtotal.
func DeliveryFor(subtotal int64) int64 {
	if subtotal >= FreeShippingThreshold {
		return 0
	}
	return DeliveryCharge
}

// PercentOf returns round(amount × percent / 100), rounding half away from zero.
func PercentOf(amount int64, percent float64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// DiscountedPrice applies a product level discount percentage to a price.
func DiscountedPrice(price int64, discountPercent float64) int64 {
	if discountPercent <= 0 {
		return price
	}
	return price - PercentOf(price, discountPercent)
}
