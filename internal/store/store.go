package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// UnitOfWork is the set of persistence operations available both on the
// store itself and inside a transaction.
type UnitOfWork interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID int64, quantity int) error

	EnsureCart(ctx context.Context, userID string) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error

	GetCouponForUser(ctx context.Context, code, userID string) (*models.Coupon, error)
	RedeemCoupon(ctx context.Context, r *models.CouponRedemption, userLimit int) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from []models.OrderStatus, entry models.StatusEntry) (bool, error)
	UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, details models.JSONMap) (bool, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is a UnitOfWork that can also run a function atomically.
type Repository interface {
	UnitOfWork
	RunInTx(ctx context.Context, fn func(UnitOfWork) error) error
}

// queries implements UnitOfWork over either the pool or a transaction.
type queries struct {
	ext sqlx.ExtContext
}

type Store struct {
	queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{queries: queries{ext: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(UnitOfWork) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const productColumns = `id, sku, name, image, price, discount_percent, stock, sold, active, created_at, updated_at`

// GetProductByID retrieves a product by ID
func (q *queries) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.ext, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (q *queries) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = q.ext.Rebind(query)

	var products []models.Product
	err = sqlx.SelectContext(ctx, q.ext, &products, query, args...)
	return products, err
}

// ReserveStock decrements stock and increments sold in one conditional
// statement. It reports false when fewer than quantity units are in stock.
func (q *queries) ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1, sold = sold + $1, updated_at = NOW()
		 WHERE id = $2 AND stock >= $1`,
		quantity, productID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStock returns units to stock (cancellation)
func (q *queries) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE products SET stock = stock + $1, sold = GREATEST(sold - $1, 0), updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	return nil
}
