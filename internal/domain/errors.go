package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего адреса доставки.
	ErrShippingAddressRequired = errors.New("shipping address is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNumberTaken — сгенерированный номер заказа уже занят, нужен retry.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrInvalidTransition — запрошенный переход статуса не разрешён таблицей переходов.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrProductNotFound — товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductUnavailable — товар существует, но недоступен для продажи.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrOutOfStock — остатка не хватает на запрошенное количество.
	ErrOutOfStock = errors.New("out of stock")

	// ErrVoucherNotFound — код ваучера не существует.
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrVoucherNotApplicable — ваучер существует, но не применим к заказу.
	ErrVoucherNotApplicable = errors.New("voucher not applicable")
	// ErrVoucherExhausted — достигнут глобальный лимит использований ваучера.
	ErrVoucherExhausted = errors.New("voucher usage limit reached")

	// ErrLoyaltyAccountNotFound — счёт лояльности отсутствует.
	ErrLoyaltyAccountNotFound = errors.New("loyalty account not found")
	// ErrInsufficientPoints — на счёте не хватает баллов для списания.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	// ErrPointsBelowMinimum — запрошено списание меньше минимального порога.
	ErrPointsBelowMinimum = errors.New("points below minimum redeemable amount")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsFatalPlacementError отделяет фатальные ошибки оформления заказа от мягких.
// Фатальные ошибки прерывают оформление и требуют компенсации резервов;
// мягкие (ваучер, баллы) деградируют до предупреждения.
func IsFatalPlacementError(err error) bool {
	switch {
	case errors.Is(err, ErrVoucherNotFound),
		errors.Is(err, ErrVoucherNotApplicable),
		errors.Is(err, ErrVoucherExhausted),
		errors.Is(err, ErrInsufficientPoints),
		errors.Is(err, ErrPointsBelowMinimum):
		return false
	default:
		return true
	}
}
