package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/fos/internal/domain"
	"github.com/vladislavdragonenkov/fos/internal/service/checkout"
)

// placeOrderRequest — тело запроса оформления заказа.
// Пустой items означает оформление из корзины.
type placeOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id" binding:"required"`
		Quantity  int32  `json:"quantity" binding:"required,gt=0"`
	} `json:"items"`
	ShippingAddress struct {
		FullName    string `json:"full_name" binding:"required"`
		PhoneNumber string `json:"phone_number" binding:"required"`
		Address     string `json:"address" binding:"required"`
		Ward        string `json:"ward"`
		District    string `json:"district"`
		City        string `json:"city"`
		Note        string `json:"note"`
	} `json:"shipping_address" binding:"required"`
	VoucherCode    string `json:"voucher_code"`
	PointsToRedeem int64  `json:"points_to_redeem"`
	Note           string `json:"note"`
	ShippingFee    int64  `json:"shipping_fee"`
}

type orderItemView struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	ImageURL  string `json:"image_url,omitempty"`
}

type orderView struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	UserID          string                 `json:"user_id"`
	Status          string                 `json:"status"`
	PaymentMethod   string                 `json:"payment_method"`
	PaymentStatus   string                 `json:"payment_status"`
	Items           []orderItemView        `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	TotalAmount     int64                  `json:"total_amount"`
	ShippingFee     int64                  `json:"shipping_fee"`
	VoucherCode     string                 `json:"voucher_code,omitempty"`
	VoucherDiscount int64                  `json:"voucher_discount"`
	PointsUsed      int64                  `json:"points_used"`
	PointsDiscount  int64                  `json:"points_discount"`
	PointsEarned    int64                  `json:"points_earned"`
	FinalAmount     int64                  `json:"final_amount"`
	Note            string                 `json:"note,omitempty"`
	CancelReason    string                 `json:"cancel_reason,omitempty"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func toOrderView(order domain.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
		})
	}
	return orderView{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		Items:           items,
		ShippingAddress: order.ShippingAddress,
		TotalAmount:     order.TotalAmount,
		ShippingFee:     order.ShippingFee,
		VoucherCode:     order.VoucherCode,
		VoucherDiscount: order.VoucherDiscount,
		PointsUsed:      order.PointsUsed,
		PointsDiscount:  order.PointsDiscount,
		PointsEarned:    order.PointsEarned,
		FinalAmount:     order.FinalAmount,
		Note:            order.Note,
		CancelReason:    order.CancelReason,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

// placeOrder — POST /api/v1/orders.
func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := checkout.PlaceOrderInput{
		UserID: userID(c),
		ShippingAddress: domain.ShippingAddress{
			FullName:    req.ShippingAddress.FullName,
			PhoneNumber: req.ShippingAddress.PhoneNumber,
			Address:     req.ShippingAddress.Address,
			Ward:        req.ShippingAddress.Ward,
			District:    req.ShippingAddress.District,
			City:        req.ShippingAddress.City,
			Note:        req.ShippingAddress.Note,
		},
		VoucherCode:    req.VoucherCode,
		PointsToRedeem: req.PointsToRedeem,
		Note:           req.Note,
		ShippingFee:    req.ShippingFee,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, checkout.PlacementItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	result, err := s.checkout.PlaceOrder(input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":    toOrderView(result.Order),
		"warnings": result.Warnings,
	})
}

// listOrders — GET /api/v1/orders.
func (s *Server) listOrders(c *gin.Context) {
	filter := domain.OrderFilter{
		Status: domain.OrderStatus(c.Query("status")),
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", 20),
	}

	orders, total, err := s.orders.ListByUser(userID(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toOrderView(order))
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": views,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

// getOrder — GET /api/v1/orders/:id.
func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	// Чужой заказ неотличим от несуществующего.
	if order.UserID != userID(c) {
		respondError(c, domain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderView(order)})
}

// cancelOrder — POST /api/v1/orders/:id/cancel.
func (s *Server) cancelOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Тело опционально.
	_ = c.ShouldBindJSON(&req)

	order, err := s.checkout.CancelOrder(userID(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderView(order)})
}

// confirmReceived — POST /api/v1/orders/:id/confirm-received.
func (s *Server) confirmReceived(c *gin.Context) {
	order, err := s.checkout.ConfirmReceived(userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderView(order)})
}

// updateOrderStatus — PATCH /api/v1/orders/:id/status (admin).
func (s *Server) updateOrderStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.checkout.UpdateStatus(c.Param("id"), domain.OrderStatus(req.Status), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderView(order)})
}

// validateVoucher — POST /api/v1/vouchers/validate.
// Недействительный ваучер — это не ошибка HTTP, а ответ valid=false.
func (s *Server) validateVoucher(c *gin.Context) {
	var req struct {
		Code        string   `json:"code" binding:"required"`
		OrderAmount int64    `json:"order_amount" binding:"required,gt=0"`
		ProductIDs  []string `json:"product_ids"`
		CategoryIDs []string `json:"category_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := s.vouchers.Validate(userID(c), req.Code, req.OrderAmount, req.ProductIDs, req.CategoryIDs, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
		return
	}

	// CalculateDiscount не даёт скидке превысить сумму заказа,
	// поэтому итог не бывает отрицательным.
	c.JSON(http.StatusOK, gin.H{
		"valid":        true,
		"discount":     quote.Discount,
		"final_amount": req.OrderAmount - quote.Discount,
		"voucher": gin.H{
			"code":          quote.Voucher.Code,
			"name":          quote.Voucher.Name,
			"discount_type": quote.Voucher.DiscountType,
		},
	})
}

// loyaltyAccount — GET /api/v1/loyalty/account.
func (s *Server) loyaltyAccount(c *gin.Context) {
	summary, err := s.loyalty.Account(userID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"user_id":          summary.Account.UserID,
		"total_points":     summary.Account.TotalPoints,
		"available_points": summary.Account.AvailablePoints,
		"lifetime_points":  summary.Account.LifetimePoints,
		"tier":             summary.Account.Tier,
	}
	if summary.HasNextTier {
		resp["next_tier"] = summary.NextTier
		resp["points_to_next_tier"] = summary.PointsToNextTier
	}
	c.JSON(http.StatusOK, resp)
}

// loyaltyTransactions — GET /api/v1/loyalty/transactions.
func (s *Server) loyaltyTransactions(c *gin.Context) {
	filter := domain.PointTransactionFilter{
		Type:  domain.PointTransactionType(c.Query("type")),
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 20),
	}

	txs, total, err := s.loyalty.History(userID(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"total":        total,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}

// redeemPreview — POST /api/v1/loyalty/redeem-preview.
func (s *Server) redeemPreview(c *gin.Context) {
	var req struct {
		Points int64 `json:"points" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := s.loyalty.RedeemPreview(userID(c), req.Points)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"points":           quote.Points,
		"discount":         quote.Discount,
		"remaining_points": quote.Remaining,
	})
}

// getProduct — GET /api/v1/products/:id.
func (s *Server) getProduct(c *gin.Context) {
	product, err := s.products.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product": gin.H{
			"id":              product.ID,
			"name":            product.Name,
			"category_id":     product.CategoryID,
			"price":           product.Price,
			"discount_price":  product.DiscountPrice,
			"effective_price": product.EffectivePrice(),
			"stock":           product.Stock,
			"status":          product.Status,
			"image_url":       product.ImageURL,
		},
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return def
	}
	return value
}
