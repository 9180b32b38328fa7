package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
	"github.com/vladislavdragonenkov/fos/internal/service/checkout"
	"github.com/vladislavdragonenkov/fos/internal/service/loyalty"
	"github.com/vladislavdragonenkov/fos/internal/service/voucher"
)

// Заголовки аутентификации. Сервис живёт за API gateway, который
// проверяет токен и пробрасывает идентификатор пользователя.
const (
	headerUserID = "X-User-ID"
	headerAdmin  = "X-Admin"
)

// Server — HTTP-слой сервиса заказов поверх gin.
type Server struct {
	checkout *checkout.Orchestrator
	orders   domain.OrderRepository
	products domain.ProductRepository
	vouchers *voucher.Evaluator
	loyalty  *loyalty.Ledger
	logger   *log.Entry
}

// NewServer создаёт HTTP-слой со всеми зависимостями.
func NewServer(
	orchestrator *checkout.Orchestrator,
	orders domain.OrderRepository,
	products domain.ProductRepository,
	vouchers *voucher.Evaluator,
	loyaltyLedger *loyalty.Ledger,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}
	return &Server{
		checkout: orchestrator,
		orders:   orders,
		products: products,
		vouchers: vouchers,
		loyalty:  loyaltyLedger,
		logger:   logger,
	}
}

// Router собирает gin-маршруты API.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	v1 := router.Group("/api/v1")

	ordersGroup := v1.Group("/orders")
	ordersGroup.Use(s.requireUser())
	{
		ordersGroup.POST("", s.placeOrder)
		ordersGroup.GET("", s.listOrders)
		ordersGroup.GET("/:id", s.getOrder)
		ordersGroup.POST("/:id/cancel", s.cancelOrder)
		ordersGroup.POST("/:id/confirm-received", s.confirmReceived)
	}
	// Административный перевод статуса.
	v1.PATCH("/orders/:id/status", s.requireAdmin(), s.updateOrderStatus)

	voucherGroup := v1.Group("/vouchers")
	voucherGroup.Use(s.requireUser())
	{
		voucherGroup.POST("/validate", s.validateVoucher)
	}

	loyaltyGroup := v1.Group("/loyalty")
	loyaltyGroup.Use(s.requireUser())
	{
		loyaltyGroup.GET("/account", s.loyaltyAccount)
		loyaltyGroup.GET("/transactions", s.loyaltyTransactions)
		loyaltyGroup.POST("/redeem-preview", s.redeemPreview)
	}

	v1.GET("/products/:id", s.getProduct)

	return router
}

// requestLogger пишет access-лог в logrus.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("http request")
	}
}

// requireUser требует идентификатор пользователя в заголовке.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing " + headerUserID + " header"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// requireAdmin пропускает только административные запросы.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(headerAdmin) != "true" {
			c.AbortWithStatusJSON(403, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString("user_id")
}
