package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestReserveStock(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE products SET stock = stock - \$1`).
		WithArgs(2, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1`).
		WithArgs(5, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ReserveStock(ctx, 7, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReserveStock(ctx, 7, 5)
	require.NoError(t, err)
	assert.False(t, ok, "insufficient stock must not reserve")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE products SET stock = stock \+ \$1, sold = GREATEST\(sold - \$1, 0\)`).
		WithArgs(3, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ReleaseStock(context.Background(), 9, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductByID(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	cols := []string{"id", "sku", "name", "image", "price", "discount_percent", "stock", "sold", "active", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT .* FROM products WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, "SKU-1", "Mug", "", 500, 10.0, 4, 0, true, now, now))
	mock.ExpectQuery(`SELECT .* FROM products WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(cols))

	p, err := s.GetProductByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Mug", p.Name)
	assert.Equal(t, int64(450), p.FinalPrice())

	_, err = s.GetProductByID(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.RunInTx(context.Background(), func(uow UnitOfWork) error {
			_, err := uow.ReserveStock(context.Background(), 1, 1)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := s.RunInTx(context.Background(), func(uow UnitOfWork) error {
			if _, err := uow.ReserveStock(context.Background(), 1, 1); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedeemCoupon(t *testing.T) {
	redemption := func() *models.CouponRedemption {
		return &models.CouponRedemption{CouponID: 3, UserID: "u1", OrderID: 11, RedeemedAt: time.Now()}
	}

	t.Run("global limit reached", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE coupons SET used_count = used_count \+ 1`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.RedeemCoupon(context.Background(), redemption(), 1)
		assert.True(t, apperr.IsKind(err, apperr.UsageLimitReached))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("per user limit reached", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE coupons SET used_count = used_count \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO coupon_redemptions`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		err := s.RedeemCoupon(context.Background(), redemption(), 1)
		assert.True(t, apperr.IsKind(err, apperr.UserUsageLimitReached))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("records redemption", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE coupons SET used_count = used_count \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO coupon_redemptions`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		r := redemption()
		require.NoError(t, s.RedeemCoupon(context.Background(), r, 0))
		assert.Equal(t, int64(42), r.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateOrderDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	order := &models.Order{
		OrderNumber:      "ORD-1",
		UserID:           "u1",
		PaymentMethod:    models.PaymentMethodCOD,
		PaymentStatus:    models.PaymentStatusPending,
		OrderStatus:      models.OrderStatusPending,
		ExpectedDelivery: time.Now(),
	}
	err := s.CreateOrder(context.Background(), order)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM orders WHERE order_number = \$1`).
		WithArgs("ORD-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrderByNumber(context.Background(), "ORD-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrderStatusRejected(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE orders SET order_status = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.TransitionOrderStatus(context.Background(), 5,
		models.CancellableStatuses,
		models.StatusEntry{Status: models.OrderStatusCancelled, Comment: "changed my mind", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
