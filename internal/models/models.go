package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/internal/pricing"
)

// Product represents a product in the catalog
type Product struct {
	ID              int64     `db:"id" json:"id"`
	SKU             string    `db:"sku" json:"sku"`
	Name            string    `db:"name" json:"name"`
	Image           string    `db:"image" json:"image"`
	Price           int64     `db:"price" json:"price"`
	DiscountPercent float64   `db:"discount_percent" json:"discount_percent"`
	Stock           int       `db:"stock" json:"stock"`
	Sold            int       `db:"sold" json:"sold"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// FinalPrice returns the unit price after the product discount.
func (p *Product) FinalPrice() int64 {
	return pricing.DiscountedPrice(p.Price, p.DiscountPercent)
}

// ProductSummary is the live product view attached to cart items on read.
type ProductSummary struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	Price      int64  `json:"price"`
	FinalPrice int64  `json:"final_price"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
}

// Summary returns the cart display projection of a product.
func (p *Product) Summary() *ProductSummary {
	return &ProductSummary{
		Name:       p.Name,
		Image:      p.Image,
		Price:      p.Price,
		FinalPrice: p.FinalPrice(),
		Stock:      p.Stock,
		Active:     p.Active,
	}
}

// ShippingAddress is stored as a JSONB column on orders.
type ShippingAddress struct {
	FullName     string `json:"full_name" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	AddressLine1 string `json:"address_line1" validate:"required"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state" validate:"required"`
	PostalCode   string `json:"postal_code" validate:"required"`
	Country      string `json:"country" validate:"required"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return marshalJSON(a)
}

func (a *ShippingAddress) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// JSONMap is a free-form JSON object, used for gateway responses whose shape
// depends on the provider.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSON(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// marshalJSON returns a string so lib/pq sends text rather than bytea.
func marshalJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
