package main

import (
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store/memstore"
)

// seedDemoData fills the in-memory store with a small catalog and the two
// launch coupons.
func seedDemoData(s *memstore.Store) {
	products := []models.Product{
		{SKU: "MUG-001", Name: "Ceramic Mug", Price: 249, Stock: 100, Active: true},
		{SKU: "KTL-002", Name: "Electric Kettle", Price: 1899, DiscountPercent: 10, Stock: 25, Active: true},
		{SKU: "LMP-003", Name: "Desk Lamp", Price: 1299, Stock: 40, Active: true},
		{SKU: "CHR-004", Name: "Office Chair", Price: 7499, DiscountPercent: 15, Stock: 8, Active: true},
	}
	for _, p := range products {
		s.PutProduct(p)
	}

	now := time.Now()
	maxDiscount := int64(200)
	s.PutCoupon(models.Coupon{
		Code:           "WELCOME10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  10,
		MaxDiscount:    &maxDiscount,
		MinOrderAmount: 500,
		UserUsageLimit: 1,
		ValidFrom:      now,
		ValidUntil:     now.AddDate(1, 0, 0),
		Active:         true,
	})
	s.PutCoupon(models.Coupon{
		Code:           "FLAT500",
		DiscountType:   models.DiscountFixed,
		DiscountValue:  500,
		MinOrderAmount: 2000,
		ValidFrom:      now,
		ValidUntil:     now.AddDate(0, 3, 0),
		Active:         true,
	})
}
