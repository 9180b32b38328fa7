package checkout

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
	"github.com/vladislavdragonenkov/fos/internal/service/inventory"
	"github.com/vladislavdragonenkov/fos/internal/service/loyalty"
	"github.com/vladislavdragonenkov/fos/internal/service/voucher"
	"github.com/vladislavdragonenkov/fos/internal/storage/memory"
)

// env — собранный на in-memory репозиториях оркестратор со всеми ручками.
type env struct {
	orchestrator *Orchestrator
	orders       domain.OrderRepository
	products     domain.ProductRepository
	carts        domain.CartRepository
	vouchers     domain.VoucherRepository
	loyaltyRepo  domain.LoyaltyRepository
	outbox       interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository()
	carts := memory.NewCartRepository()
	voucherRepo := memory.NewVoucherRepository()
	userVouchers := memory.NewUserVoucherRepository()
	loyaltyRepo := memory.NewLoyaltyRepository()
	outbox := memory.NewOutboxRepository()

	orchestrator := NewOrchestratorWithoutMetrics(
		orders,
		products,
		carts,
		inventory.NewLedger(products, nil),
		voucher.NewEvaluator(voucherRepo, userVouchers, nil),
		loyalty.NewLedger(loyaltyRepo, nil),
		outbox,
		nil,
	)

	return &env{
		orchestrator: orchestrator,
		orders:       orders,
		products:     products,
		carts:        carts,
		vouchers:     voucherRepo,
		loyaltyRepo:  loyaltyRepo,
		outbox:       outbox,
	}
}

func (e *env) seedProduct(t *testing.T, id string, price int64, stock int32) {
	t.Helper()
	err := e.products.Create(domain.Product{
		ID:     id,
		Name:   "Dish " + id,
		Price:  price,
		Stock:  stock,
		Status: domain.ProductStatusAvailable,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
}

func (e *env) seedVoucher(t *testing.T, v domain.Voucher) {
	t.Helper()
	if err := e.vouchers.Create(v); err != nil {
		t.Fatalf("seed voucher: %v", err)
	}
}

func placementInput(items ...PlacementItem) PlaceOrderInput {
	return PlaceOrderInput{
		UserID: "user-1",
		Items:  items,
		ShippingAddress: domain.ShippingAddress{
			FullName:    "Nguyen Van A",
			PhoneNumber: "0900000000",
			Address:     "1 Le Loi",
			City:        "Da Nang",
		},
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)
	e.seedProduct(t, "p2", 30000, 5)

	result, err := e.orchestrator.PlaceOrder(placementInput(
		PlacementItem{ProductID: "p1", Quantity: 2},
		PlacementItem{ProductID: "p2", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}

	order := result.Order
	if order.TotalAmount != 130000 || order.FinalAmount != 130000 {
		t.Fatalf("amounts: total=%d final=%d", order.TotalAmount, order.FinalAmount)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s", order.Status)
	}
	if !strings.HasPrefix(order.OrderNumber, "ORD") {
		t.Fatalf("order number = %s", order.OrderNumber)
	}
	// 130000 VND — 130 баллов для BRONZE.
	if order.PointsEarned != 130 {
		t.Fatalf("points earned = %d, want 130", order.PointsEarned)
	}

	// Склад списан.
	p1, _ := e.products.Get("p1")
	if p1.Stock != 8 {
		t.Fatalf("p1 stock = %d, want 8", p1.Stock)
	}

	// Заказ сохранён с начисленными баллами.
	saved, err := e.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get saved order: %v", err)
	}
	if saved.PointsEarned != 130 {
		t.Fatalf("saved points earned = %d", saved.PointsEarned)
	}

	// Событие встало в outbox.
	pending := e.outbox.AllPending()
	if len(pending) != 1 || pending[0].EventType != "order.created" {
		t.Fatalf("outbox = %+v", pending)
	}
}

func TestPlaceOrder_FromCart(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 40000, 10)

	if err := e.carts.Put(domain.Cart{
		UserID: "user-1",
		Items:  []domain.CartItem{{ProductID: "p1", Quantity: 3, UnitPrice: 40000}},
	}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	result, err := e.orchestrator.PlaceOrder(placementInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.Order.TotalAmount != 120000 {
		t.Fatalf("total = %d", result.Order.TotalAmount)
	}

	// Корзина очищена после успешного оформления.
	cart, _ := e.carts.Get("user-1")
	if !cart.IsEmpty() {
		t.Fatalf("cart must be cleared, got %d items", len(cart.Items))
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	e := newEnv(t)

	_, err := e.orchestrator.PlaceOrder(placementInput())
	if !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}
}

// Сбой резерва на второй позиции компенсирует резерв первой.
func TestPlaceOrder_CompensatesOnStockFailure(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)
	e.seedProduct(t, "p2", 30000, 1)

	_, err := e.orchestrator.PlaceOrder(placementInput(
		PlacementItem{ProductID: "p1", Quantity: 2},
		PlacementItem{ProductID: "p2", Quantity: 5},
	))
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	// Резерв p1 возвращён, p2 не тронут.
	p1, _ := e.products.Get("p1")
	p2, _ := e.products.Get("p2")
	if p1.Stock != 10 || p2.Stock != 1 {
		t.Fatalf("stock after compensation: p1=%d p2=%d", p1.Stock, p2.Stock)
	}

	// Заказ не сохранён и событий нет.
	if _, total, _ := e.orders.ListByUser("user-1", domain.OrderFilter{}); total != 0 {
		t.Fatalf("orders persisted = %d", total)
	}
	if pending := e.outbox.AllPending(); len(pending) != 0 {
		t.Fatalf("outbox = %+v", pending)
	}
}

// Сбой Release при компенсации не должен прерывать откат остальных резервов.
func TestPlaceOrder_CompensationSurvivesReleaseFailure(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)
	e.seedProduct(t, "p2", 30000, 10)

	mock := inventory.NewMockLedger()
	mock.ReserveErr = domain.ErrOutOfStock
	mock.FailOnProduct = "p2"
	mock.ReleaseErr = errors.New("ledger unavailable")

	orchestrator := NewOrchestratorWithoutMetrics(
		e.orders,
		e.products,
		e.carts,
		mock,
		nil,
		nil,
		e.outbox,
		nil,
	)

	_, err := orchestrator.PlaceOrder(placementInput(
		PlacementItem{ProductID: "p1", Quantity: 2},
		PlacementItem{ProductID: "p2", Quantity: 1},
	))
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	if mock.ReserveCalls != 2 {
		t.Fatalf("reserve calls = %d", mock.ReserveCalls)
	}
	// Компенсация по p1 была запрошена несмотря на ошибку Release.
	if mock.Released["p1"] != 2 {
		t.Fatalf("released = %+v", mock.Released)
	}
}

// Конкурирующие заказы не должны продать больше, чем есть на складе:
// на 7 единиц приходится 25 покупателей, проходят ровно 7.
func TestPlaceOrder_ConcurrentNoOversell(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 7)

	const buyers = 25

	var (
		wg     sync.WaitGroup
		placed atomic.Int32
	)
	errs := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			input := placementInput(PlacementItem{ProductID: "p1", Quantity: 1})
			input.UserID = fmt.Sprintf("user-%d", n)
			if _, err := e.orchestrator.PlaceOrder(input); err != nil {
				errs <- err
				return
			}
			placed.Add(1)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, domain.ErrOutOfStock) {
			t.Fatalf("unexpected placement error: %v", err)
		}
	}
	if placed.Load() != 7 {
		t.Fatalf("placed = %d, want 7", placed.Load())
	}

	p1, err := e.products.Get("p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p1.Stock != 0 {
		t.Fatalf("stock = %d, want 0", p1.Stock)
	}
	if p1.Status != domain.ProductStatusOutOfStock {
		t.Fatalf("status = %s, want %s", p1.Status, domain.ProductStatusOutOfStock)
	}

	// Каждому успешному заказу соответствует событие в outbox.
	if got := len(e.outbox.AllPending()); got != 7 {
		t.Fatalf("outbox events = %d, want 7", got)
	}
}

func TestPlaceOrder_UnknownProductIsFatal(t *testing.T) {
	e := newEnv(t)

	_, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "ghost", Quantity: 1}))
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestPlaceOrder_VoucherApplied(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 100000, 10)

	now := time.Now().UTC()
	e.seedVoucher(t, domain.Voucher{
		ID:                "v1",
		Code:              "HALF",
		DiscountType:      domain.DiscountTypePercentage,
		DiscountValue:     50,
		MaxDiscountAmount: 100000,
		StartDate:         now.Add(-time.Hour),
		EndDate:           now.Add(time.Hour),
		IsActive:          true,
	})

	input := placementInput(PlacementItem{ProductID: "p1", Quantity: 10})
	input.VoucherCode = "half"

	result, err := e.orchestrator.PlaceOrder(input)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	order := result.Order
	// 1000000 * 50% = 500000, кап 100000.
	if order.VoucherDiscount != 100000 {
		t.Fatalf("voucher discount = %d, want 100000", order.VoucherDiscount)
	}
	if order.FinalAmount != 900000 {
		t.Fatalf("final = %d, want 900000", order.FinalAmount)
	}
	if order.VoucherCode != "HALF" {
		t.Fatalf("voucher code = %s", order.VoucherCode)
	}

	// Глобальный счётчик зафиксирован.
	stored, _ := e.vouchers.GetByCode("HALF")
	if stored.UsageCount != 1 {
		t.Fatalf("usage count = %d", stored.UsageCount)
	}
}

// Недействительный ваучер деградирует до предупреждения, заказ создаётся.
func TestPlaceOrder_InvalidVoucherIsSoft(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 100000, 10)

	input := placementInput(PlacementItem{ProductID: "p1", Quantity: 1})
	input.VoucherCode = "GHOST"

	result, err := e.orchestrator.PlaceOrder(input)
	if err != nil {
		t.Fatalf("place order must succeed: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "voucher not applied") {
		t.Fatalf("warnings = %v", result.Warnings)
	}
	if result.Order.VoucherDiscount != 0 || result.Order.FinalAmount != 100000 {
		t.Fatalf("order = %+v", result.Order)
	}
}

func TestPlaceOrder_PointsRedeemed(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 100000, 10)
	if _, err := e.loyaltyRepo.Credit("user-1", 500); err != nil {
		t.Fatalf("seed points: %v", err)
	}

	input := placementInput(PlacementItem{ProductID: "p1", Quantity: 1})
	input.PointsToRedeem = 200

	result, err := e.orchestrator.PlaceOrder(input)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	order := result.Order
	if order.PointsUsed != 200 || order.PointsDiscount != 2000 {
		t.Fatalf("points: used=%d discount=%d", order.PointsUsed, order.PointsDiscount)
	}
	if order.FinalAmount != 98000 {
		t.Fatalf("final = %d, want 98000", order.FinalAmount)
	}

	// Баланс: 500 - 200 + начисление floor(98000/1000)=98.
	account, _ := e.loyaltyRepo.GetOrCreate("user-1")
	if account.AvailablePoints != 398 {
		t.Fatalf("available = %d, want 398", account.AvailablePoints)
	}
}

// Нехватка баллов деградирует до предупреждения.
func TestPlaceOrder_InsufficientPointsIsSoft(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 100000, 10)

	input := placementInput(PlacementItem{ProductID: "p1", Quantity: 1})
	input.PointsToRedeem = 500

	result, err := e.orchestrator.PlaceOrder(input)
	if err != nil {
		t.Fatalf("place order must succeed: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "points not redeemed") {
		t.Fatalf("warnings = %v", result.Warnings)
	}
	if result.Order.PointsUsed != 0 || result.Order.PointsDiscount != 0 {
		t.Fatalf("order = %+v", result.Order)
	}
}

// Скидки не могут увести итог ниже нуля.
func TestPlaceOrder_FinalAmountFloor(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 1000, 10)

	now := time.Now().UTC()
	e.seedVoucher(t, domain.Voucher{
		ID:            "v1",
		Code:          "BIG",
		DiscountType:  domain.DiscountTypeFixedAmount,
		DiscountValue: 50000,
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(time.Hour),
		IsActive:      true,
	})

	input := placementInput(PlacementItem{ProductID: "p1", Quantity: 1})
	input.VoucherCode = "BIG"

	result, err := e.orchestrator.PlaceOrder(input)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	// FIXED_AMOUNT ограничен подытогом.
	if result.Order.VoucherDiscount != 1000 || result.Order.FinalAmount != 0 {
		t.Fatalf("discount=%d final=%d", result.Order.VoucherDiscount, result.Order.FinalAmount)
	}
}

func TestPlaceOrder_NumberCollisionRetry(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	// Детерминированная последовательность суффиксов: 7, 7, 8.
	seq := []int{7, 7, 8}
	e.orchestrator.randInt = func(int) int {
		v := seq[0]
		if len(seq) > 1 {
			seq = seq[1:]
		}
		return v
	}

	first, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("first order: %v", err)
	}

	second, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("second order: %v", err)
	}
	if first.Order.OrderNumber == second.Order.OrderNumber {
		t.Fatalf("order numbers must differ: %s", first.Order.OrderNumber)
	}
}

func TestCancelOrder_ReleasesStock(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 4}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	cancelled, err := e.orchestrator.CancelOrder("user-1", result.Order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if cancelled.CancelReason != "changed my mind" || cancelled.CancelledAt == nil {
		t.Fatalf("cancel fields: %+v", cancelled)
	}

	p1, _ := e.products.Get("p1")
	if p1.Stock != 10 {
		t.Fatalf("stock = %d, want 10 after release", p1.Stock)
	}
}

func TestCancelOrder_OwnershipEnforced(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if _, err := e.orchestrator.CancelOrder("user-2", result.Order.ID, "not mine"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestCancelOrder_LateCancellationRejected(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
	} {
		if _, err := e.orchestrator.UpdateStatus(result.Order.ID, status, ""); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}

	// preparing уже нельзя отменить.
	if _, err := e.orchestrator.CancelOrder("user-1", result.Order.ID, "too late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Склад остаётся списанным.
	p1, _ := e.products.Get("p1")
	if p1.Stock != 9 {
		t.Fatalf("stock = %d, want 9", p1.Stock)
	}
}

func TestConfirmReceived(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusShipping,
	} {
		if _, err := e.orchestrator.UpdateStatus(result.Order.ID, status, ""); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}

	delivered, err := e.orchestrator.ConfirmReceived("user-1", result.Order.ID)
	if err != nil {
		t.Fatalf("confirm received: %v", err)
	}
	if delivered.Status != domain.OrderStatusDelivered {
		t.Fatalf("status = %s", delivered.Status)
	}
	if delivered.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %s", delivered.PaymentStatus)
	}
	if delivered.DeliveredAt == nil {
		t.Fatalf("DeliveredAt not set")
	}
}

func TestConfirmReceived_TooEarly(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if _, err := e.orchestrator.ConfirmReceived("user-1", result.Order.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatus_EmitsEvents(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if _, err := e.orchestrator.UpdateStatus(result.Order.ID, domain.OrderStatusConfirmed, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	pending := e.outbox.AllPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(pending))
	}
	types := map[string]bool{}
	for _, msg := range pending {
		types[msg.EventType] = true
	}
	if !types["order.created"] || !types["order.confirmed"] {
		t.Fatalf("event types = %v", types)
	}
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, "p1", 50000, 10)

	result, err := e.orchestrator.PlaceOrder(placementInput(PlacementItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if _, err := e.orchestrator.UpdateStatus(result.Order.ID, domain.OrderStatus("returned"), ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
