package domain

import (
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ждёт подтверждения.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — заказ подтверждён рестораном.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing — заказ готовится.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipping — заказ передан в доставку.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён; терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentMethod — способ оплаты. Поддерживается только оплата при получении.
type PaymentMethod string

// PaymentMethodCOD — cash on delivery.
const PaymentMethodCOD PaymentMethod = "COD"

// orderTransitions — исчерпывающая таблица допустимых переходов статуса.
// Любая пара, не перечисленная здесь, отклоняется с ErrInvalidTransition.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusShipping},
	OrderStatusShipping:  {OrderStatusDelivered},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// Known сообщает, входит ли статус в таблицу переходов.
func (s OrderStatus) Known() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal сообщает, является ли статус терминальным.
func (s OrderStatus) Terminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo проверяет допустимость перехода s → next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cancellable сообщает, можно ли ещё отменить заказ в этом статусе.
func (s OrderStatus) Cancellable() bool {
	return s.CanTransitionTo(OrderStatusCancelled)
}

// ShippingAddress — адрес доставки, снимок на момент оформления.
type ShippingAddress struct {
	FullName    string
	PhoneNumber string
	Address     string
	Ward        string
	District    string
	City        string
	Note        string
}

// OrderItem — позиция заказа: снимок товара на момент оформления.
// Название, цена и картинка никогда не перечитываются из живого каталога.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int32
	UnitPrice int64
	Name      string
	ImageURL  string
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	UserID          string
	OrderNumber     string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	TotalAmount     int64
	ShippingFee     int64
	VoucherCode     string
	VoucherDiscount int64
	PointsUsed      int64
	PointsDiscount  int64
	PointsEarned    int64
	FinalAmount     int64
	Note            string
	CancelReason    string
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FinalAmount считает итог к оплате: скидки не могут увести сумму ниже нуля.
func FinalAmount(totalAmount, shippingFee, voucherDiscount, pointsDiscount int64) int64 {
	final := totalAmount + shippingFee - voucherDiscount - pointsDiscount
	if final < 0 {
		return 0
	}
	return final
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.ShippingAddress.Address == "" || o.ShippingAddress.FullName == "" {
		errs = append(errs, ErrShippingAddressRequired)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Quantity) * item.UnitPrice
	}
	if calc != o.TotalAmount {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.FinalAmount != FinalAmount(o.TotalAmount, o.ShippingFee, o.VoucherDiscount, o.PointsDiscount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Transition переводит заказ в новый статус, применяя побочные поля:
// delivered выставляет DeliveredAt и переводит оплату в paid (COD),
// cancelled выставляет CancelledAt и причину. Компенсация складских
// резервов — ответственность вызывающего (checkout-оркестратора).
func (o *Order) Transition(next OrderStatus, reason string, now time.Time) error {
	if !next.Known() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	o.Status = next
	o.UpdatedAt = now

	switch next {
	case OrderStatusDelivered:
		ts := now
		o.DeliveredAt = &ts
		o.PaymentStatus = PaymentStatusPaid
	case OrderStatusCancelled:
		ts := now
		o.CancelledAt = &ts
		o.CancelReason = reason
	}

	return nil
}

// NewOrderNumber формирует номер заказа: ORD + unix-миллисекунды + трёхзначный
// случайный суффикс. Уникальность проверяет вызывающий (retry при коллизии).
func NewOrderNumber(now time.Time, random int) string {
	return fmt.Sprintf("ORD%d%03d", now.UnixMilli(), random%1000)
}
