package api

import (
	"net/http"
	"strconv"

	"checkout-service/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var statusByKind = map[apperr.Kind]int{
	apperr.InvalidInput:         http.StatusBadRequest,
	apperr.InvalidQuantity:      http.StatusBadRequest,
	apperr.IncompleteAddress:    http.StatusBadRequest,
	apperr.InvalidPaymentMethod: http.StatusBadRequest,
	apperr.InvalidPaymentStatus: http.StatusBadRequest,

	apperr.ProductNotFound: http.StatusNotFound,
	apperr.ItemNotFound:    http.StatusNotFound,
	apperr.OrderNotFound:   http.StatusNotFound,
	apperr.CouponNotFound:  http.StatusNotFound,

	apperr.InsufficientStock:   http.StatusConflict,
	apperr.OrderNotCancellable: http.StatusConflict,
	apperr.InvalidTransition:   http.StatusConflict,
	apperr.Conflict:            http.StatusConflict,
	apperr.CheckoutInProgress:  http.StatusConflict,

	apperr.ProductUnavailable:    http.StatusUnprocessableEntity,
	apperr.EmptyCart:             http.StatusUnprocessableEntity,
	apperr.CouponNotYetActive:    http.StatusUnprocessableEntity,
	apperr.CouponExpired:         http.StatusUnprocessableEntity,
	apperr.UsageLimitReached:     http.StatusUnprocessableEntity,
	apperr.UserUsageLimitReached: http.StatusUnprocessableEntity,
	apperr.MinimumOrderNotMet:    http.StatusUnprocessableEntity,
}

// respondError writes err as {"error": kind, "message": ...}. Errors without
// a known kind are logged and reported as a generic 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if ok {
		if status, known := statusByKind[e.Kind]; known {
			body := gin.H{"error": e.Kind, "message": e.Message}
			if e.ProductID != 0 {
				body["product_id"] = e.ProductID
			}
			c.JSON(status, body)
			return
		}
	}

	h.logger.Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   apperr.Internal,
		"message": "internal server error",
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   apperr.InvalidInput,
		"message": message,
	})
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
