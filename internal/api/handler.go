package api

import (
	"context"
	"net/http"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP handler.
type Options struct {
	// AdminAPIKey guards the admin routes. Empty disables them.
	AdminAPIKey string
	// Readiness maps a dependency name to its probe.
	Readiness map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	payments *service.PaymentService
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	checkout *service.CheckoutService,
	orders *service.OrderService,
	payments *service.PaymentService,
	opts Options,
) *Handler {
	return &Handler{
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		payments: payments,
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	cart := v1.Group("/cart", RequireUser())
	{
		cart.GET("", h.getCart)
		cart.POST("/add", h.addToCart)
		cart.PUT("/update", h.updateCartItem)
		cart.DELETE("/remove/:productId", h.removeFromCart)
		cart.DELETE("/clear", h.clearCart)
		cart.POST("/apply-coupon", h.applyCoupon)
		cart.DELETE("/coupon", h.removeCoupon)
	}

	orders := v1.Group("/orders", RequireUser())
	{
		orders.POST("", h.placeOrder)
		orders.GET("", h.listOrders)
		orders.GET("/track/:orderNumber", h.trackOrder)
		orders.GET("/:id", h.getOrder)
		orders.PUT("/:id/cancel", h.cancelOrder)
	}

	admin := v1.Group("/admin", RequireAPIKey(h.opts.AdminAPIKey))
	{
		admin.PUT("/orders/:id/status", h.updateOrderStatus)
		admin.PUT("/orders/:id/payment", h.updatePaymentStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.opts.Readiness))
	ready := true
	for name, p := range h.opts.Readiness {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}
