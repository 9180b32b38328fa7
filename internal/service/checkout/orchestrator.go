package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
	"github.com/vladislavdragonenkov/fos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fos/internal/metrics"
	"github.com/vladislavdragonenkov/fos/internal/service/loyalty"
	"github.com/vladislavdragonenkov/fos/internal/service/voucher"
)

// maxOrderNumberAttempts ограничивает retry при коллизии номера заказа.
const maxOrderNumberAttempts = 5

// PlacementItem — запрошенная позиция оформления.
type PlacementItem struct {
	ProductID string
	Quantity  int32
}

// PlaceOrderInput — входные данные оформления заказа.
// Если Items пуст, позиции берутся из корзины пользователя.
type PlaceOrderInput struct {
	UserID          string
	Items           []PlacementItem
	ShippingAddress domain.ShippingAddress
	VoucherCode     string
	PointsToRedeem  int64
	Note            string
	ShippingFee     int64
}

// PlacementResult — созданный заказ и накопленные предупреждения о
// мягких сбоях (ваучер, баллы).
type PlacementResult struct {
	Order    domain.Order
	Warnings []string
}

// reservation — учтённый складской резерв, подлежащий компенсации при сбое.
type reservation struct {
	productID string
	qty       int32
}

// Orchestrator проводит заказ через оформление и жизненный цикл.
// Складские резервы — жёсткий шаг с полной компенсацией; ваучер и баллы —
// мягкие шаги, деградирующие до предупреждений в ответе.
type Orchestrator struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	carts    domain.CartRepository
	stock    domain.StockLedger
	vouchers *voucher.Evaluator
	loyalty  *loyalty.Ledger
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	randInt  func(n int) int
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	carts domain.CartRepository,
	stock domain.StockLedger,
	vouchers *voucher.Evaluator,
	loyaltyLedger *loyalty.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	o := newOrchestrator(orders, products, carts, stock, vouchers, loyaltyLedger, outbox, logger)
	o.metrics = metrics.NewCheckoutMetrics()
	return o
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	carts domain.CartRepository,
	stock domain.StockLedger,
	vouchers *voucher.Evaluator,
	loyaltyLedger *loyalty.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	return newOrchestrator(orders, products, carts, stock, vouchers, loyaltyLedger, outbox, logger)
}

func newOrchestrator(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	carts domain.CartRepository,
	stock domain.StockLedger,
	vouchers *voucher.Evaluator,
	loyaltyLedger *loyalty.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Orchestrator{
		orders:   orders,
		products: products,
		carts:    carts,
		stock:    stock,
		vouchers: vouchers,
		loyalty:  loyaltyLedger,
		outbox:   outbox,
		logger:   logger,
		randInt:  rand.Intn,
	}
}

// PlaceOrder оформляет заказ: резервирует склад, применяет скидки,
// сохраняет заказ и ставит событие в outbox. При фатальной ошибке все
// уже сделанные резервы компенсируются.
func (o *Orchestrator) PlaceOrder(input PlaceOrderInput) (PlacementResult, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordPlacementStarted()
	}

	result, err := o.placeOrder(input)
	if o.metrics != nil {
		o.metrics.RecordPlacementDuration(time.Since(start))
		if err != nil {
			o.metrics.RecordPlacementFailed()
		} else {
			o.metrics.RecordPlacementCompleted()
		}
	}
	return result, err
}

func (o *Orchestrator) placeOrder(input PlaceOrderInput) (PlacementResult, error) {
	if input.UserID == "" {
		return PlacementResult{}, domain.ErrUserRequired
	}
	if input.ShippingAddress.Address == "" || input.ShippingAddress.FullName == "" {
		return PlacementResult{}, domain.ErrShippingAddressRequired
	}

	now := time.Now().UTC()
	logger := o.logger.WithField("user_id", input.UserID)

	items, fromCart, err := o.resolveItems(input)
	if err != nil {
		return PlacementResult{}, err
	}

	// Шаг 1: складские резервы. Каждый успешный резерв учитывается,
	// чтобы при сбое на i-й позиции откатить первые i-1.
	orderItems, reserved, err := o.reserveItems(items, now)
	if err != nil {
		o.compensate(reserved)
		logger.WithError(err).Warn("order placement rejected at stock reservation")
		return PlacementResult{}, err
	}

	var subtotal int64
	productIDs := make([]string, 0, len(orderItems))
	categoryIDs := make([]string, 0, len(orderItems))
	for _, item := range orderItems {
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	for _, item := range items {
		productIDs = append(productIDs, item.product.ID)
		if item.product.CategoryID != "" {
			categoryIDs = append(categoryIDs, item.product.CategoryID)
		}
	}

	var warnings []string

	// Шаг 2 (мягкий): ваучер. Ошибка не прерывает оформление.
	var voucherQuote voucher.Quote
	var voucherApplied bool
	if input.VoucherCode != "" && o.vouchers != nil {
		quote, err := o.vouchers.Validate(input.UserID, input.VoucherCode, subtotal, productIDs, categoryIDs, now)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("voucher not applied: %v", err))
			o.recordWarning(domain.CheckoutStepVoucher)
			logger.WithError(err).WithField("voucher_code", input.VoucherCode).Warn("voucher degraded to warning")
		} else {
			voucherQuote = quote
			voucherApplied = true
		}
	}

	// Шаг 3 (мягкий): списание баллов. Списываем сразу, чтобы скидка
	// опиралась на реально удержанные баллы; при сбое сохранения заказа
	// баллы возвращаются.
	var pointsUsed, pointsDiscount int64
	orderID := uuid.NewString()
	if input.PointsToRedeem > 0 && o.loyalty != nil {
		discount, err := o.loyalty.Redeem(input.UserID, orderID, input.PointsToRedeem, now)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("points not redeemed: %v", err))
			o.recordWarning(domain.CheckoutStepRedeem)
			logger.WithError(err).WithField("points", input.PointsToRedeem).Warn("points redemption degraded to warning")
		} else {
			pointsUsed = input.PointsToRedeem
			pointsDiscount = discount
		}
	}

	var voucherDiscount int64
	var voucherCode string
	if voucherApplied {
		voucherDiscount = voucherQuote.Discount
		voucherCode = voucherQuote.Voucher.Code
	}

	order := domain.Order{
		ID:              orderID,
		UserID:          input.UserID,
		Items:           orderItems,
		ShippingAddress: input.ShippingAddress,
		PaymentMethod:   domain.PaymentMethodCOD,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPending,
		TotalAmount:     subtotal,
		ShippingFee:     input.ShippingFee,
		VoucherCode:     voucherCode,
		VoucherDiscount: voucherDiscount,
		PointsUsed:      pointsUsed,
		PointsDiscount:  pointsDiscount,
		FinalAmount:     domain.FinalAmount(subtotal, input.ShippingFee, voucherDiscount, pointsDiscount),
		Note:            input.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Шаг 4: сохранение с retry при коллизии номера заказа.
	if err := o.persistWithNumberRetry(&order, now); err != nil {
		o.compensate(reserved)
		if pointsUsed > 0 {
			o.refundPoints(input.UserID, orderID, pointsUsed, now)
		}
		logger.WithError(err).Error("failed to persist order")
		return PlacementResult{}, err
	}

	// Пост-шаги после фиксации заказа: мягкие, заказ уже существует.
	if voucherApplied {
		if err := o.vouchers.Commit(input.UserID, voucherQuote, now); err != nil {
			warnings = append(warnings, fmt.Sprintf("voucher usage not recorded: %v", err))
			o.recordWarning(domain.CheckoutStepVoucher)
			logger.WithError(err).WithField("voucher_code", voucherCode).Warn("voucher usage commit failed")
		}
	}

	if fromCart && o.carts != nil {
		if err := o.carts.Clear(input.UserID); err != nil {
			logger.WithError(err).Warn("failed to clear cart after placement")
		}
	}

	// Шаг 5 (мягкий): начисление баллов за заказ.
	if o.loyalty != nil {
		earned, err := o.loyalty.Earn(input.UserID, order.ID, order.FinalAmount, now)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("points not earned: %v", err))
			o.recordWarning(domain.CheckoutStepEarn)
			logger.WithError(err).Warn("loyalty earn failed")
		} else if earned > 0 {
			order.PointsEarned = earned
			if err := o.orders.Save(order); err != nil {
				logger.WithError(err).Warn("failed to record earned points on order")
			} else {
				order.Version++
			}
		}
	}

	o.enqueueEvent(&order, kafka.EventTypeOrderCreated, nil)

	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"final_amount": order.FinalAmount,
		"warnings":     len(warnings),
	}).Info("order placed")

	return PlacementResult{Order: order, Warnings: warnings}, nil
}

// resolvedItem связывает запрошенное количество со снимком товара.
type resolvedItem struct {
	product domain.Product
	qty     int32
}

// resolveItems превращает вход в список позиций: явные позиции запроса
// либо содержимое корзины. Возвращает признак, что источник — корзина.
func (o *Orchestrator) resolveItems(input PlaceOrderInput) ([]resolvedItem, bool, error) {
	requested := input.Items
	fromCart := false

	if len(requested) == 0 {
		if o.carts == nil {
			return nil, false, domain.ErrItemsRequired
		}
		cart, err := o.carts.Get(input.UserID)
		if err != nil {
			return nil, false, err
		}
		if cart.IsEmpty() {
			return nil, false, domain.ErrItemsRequired
		}
		for _, ci := range cart.Items {
			requested = append(requested, PlacementItem{ProductID: ci.ProductID, Quantity: ci.Quantity})
		}
		fromCart = true
	}

	items := make([]resolvedItem, 0, len(requested))
	for _, req := range requested {
		if req.Quantity <= 0 {
			return nil, false, domain.ErrItemQtyInvalid
		}
		product, err := o.products.Get(req.ProductID)
		if err != nil {
			return nil, false, err
		}
		items = append(items, resolvedItem{product: product, qty: req.Quantity})
	}
	return items, fromCart, nil
}

// reserveItems резервирует склад и строит снимки позиций заказа.
// Возвращает список успешных резервов для возможной компенсации.
func (o *Orchestrator) reserveItems(items []resolvedItem, now time.Time) ([]domain.OrderItem, []reservation, error) {
	stepStart := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordStepDuration(string(domain.CheckoutStepReserve), time.Since(stepStart))
		}
	}()

	orderItems := make([]domain.OrderItem, 0, len(items))
	reserved := make([]reservation, 0, len(items))

	for _, item := range items {
		if err := o.stock.Reserve(item.product.ID, item.qty); err != nil {
			return nil, reserved, fmt.Errorf("reserve %s: %w", item.product.ID, err)
		}
		reserved = append(reserved, reservation{productID: item.product.ID, qty: item.qty})

		orderItems = append(orderItems, domain.OrderItem{
			ID:        uuid.NewString(),
			ProductID: item.product.ID,
			Quantity:  item.qty,
			UnitPrice: item.product.EffectivePrice(),
			Name:      item.product.Name,
			ImageURL:  item.product.ImageURL,
			CreatedAt: now,
		})
	}
	return orderItems, reserved, nil
}

// persistWithNumberRetry сохраняет заказ, перегенерируя номер при коллизии.
func (o *Orchestrator) persistWithNumberRetry(order *domain.Order, now time.Time) error {
	stepStart := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordStepDuration(string(domain.CheckoutStepPersist), time.Since(stepStart))
		}
	}()

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = domain.NewOrderNumber(now, o.randInt(1000))
		err := o.orders.Create(*order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrOrderNumberTaken) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("order number collision persisted after %d attempts: %w", maxOrderNumberAttempts, lastErr)
}

// compensate откатывает учтённые складские резервы.
func (o *Orchestrator) compensate(reserved []reservation) {
	for _, res := range reserved {
		if err := o.stock.Release(res.productID, res.qty); err != nil {
			o.logger.WithError(err).WithField("product_id", res.productID).Error("stock compensation failed")
			continue
		}
		if o.metrics != nil {
			o.metrics.RecordStockCompensation()
		}
	}
}

// refundPoints возвращает списанные баллы после сбоя сохранения заказа.
func (o *Orchestrator) refundPoints(userID, orderID string, points int64, now time.Time) {
	if _, err := o.loyalty.Adjust(userID, points, fmt.Sprintf("Refund for failed order %s", orderID), now); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"points":  points,
		}).Error("failed to refund redeemed points")
	}
}

func (o *Orchestrator) recordWarning(step domain.CheckoutStep) {
	if o.metrics != nil {
		o.metrics.RecordPlacementWarning(string(step))
	}
}

// CancelOrder отменяет заказ и возвращает складские резервы.
// userID проверяет владение; пустой userID означает административный вызов.
func (o *Orchestrator) CancelOrder(userID, orderID, reason string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if userID != "" && order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	now := time.Now().UTC()
	if err := order.Transition(domain.OrderStatusCancelled, reason, now); err != nil {
		return domain.Order{}, err
	}
	if err := o.orders.Save(order); err != nil {
		return domain.Order{}, err
	}
	order.Version++

	// Возврат остатков после фиксации отмены.
	for _, item := range order.Items {
		if err := o.stock.Release(item.ProductID, item.Quantity); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
			}).Error("failed to release stock on cancellation")
		}
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}
	o.enqueueEvent(&order, kafka.EventTypeOrderCancelled, map[string]interface{}{"reason": reason})

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Info("order cancelled")
	return order, nil
}

// ConfirmReceived — подтверждение получения пользователем: shipping → delivered.
func (o *Orchestrator) ConfirmReceived(userID, orderID string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o.transitionAndSave(order, domain.OrderStatusDelivered, "")
}

// UpdateStatus — административный перевод заказа в новый статус.
// Отмена через этот путь также возвращает складские резервы.
func (o *Orchestrator) UpdateStatus(orderID string, next domain.OrderStatus, reason string) (domain.Order, error) {
	if next == domain.OrderStatusCancelled {
		return o.CancelOrder("", orderID, reason)
	}

	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return o.transitionAndSave(order, next, reason)
}

func (o *Orchestrator) transitionAndSave(order domain.Order, next domain.OrderStatus, reason string) (domain.Order, error) {
	now := time.Now().UTC()
	if err := order.Transition(next, reason, now); err != nil {
		return domain.Order{}, err
	}
	if err := o.orders.Save(order); err != nil {
		return domain.Order{}, err
	}
	order.Version++

	if next == domain.OrderStatusDelivered && o.metrics != nil {
		o.metrics.RecordOrderDelivered()
	}
	o.enqueueEvent(&order, kafka.EventTypeForStatus(string(next)), nil)

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("order status updated")
	return order, nil
}

// enqueueEvent ставит событие заказа в transactional outbox.
func (o *Orchestrator) enqueueEvent(order *domain.Order, eventType kafka.EventType, metadata map[string]interface{}) {
	if o.outbox == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.OrderNumber, order.UserID, string(order.Status), metadata)
	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to marshal order event")
		return
	}

	if _, err := o.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to enqueue outbox event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}
