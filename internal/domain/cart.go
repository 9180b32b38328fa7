package domain

import "time"

// CartItem — позиция корзины с ценой, зафиксированной в момент добавления.
type CartItem struct {
	ProductID string
	Quantity  int32
	UnitPrice int64
	AddedAt   time.Time
}

// Cart — корзина пользователя (ровно одна на пользователя).
// После успешного оформления заказа корзина очищается, но не удаляется.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// IsEmpty сообщает, пуста ли корзина.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
