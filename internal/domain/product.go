package domain

import "time"

// ProductStatus описывает доступность товара в каталоге.
type ProductStatus string

const (
	// ProductStatusAvailable — товар продаётся.
	ProductStatusAvailable ProductStatus = "available"
	// ProductStatusUnavailable — товар снят с продажи вручную.
	ProductStatusUnavailable ProductStatus = "unavailable"
	// ProductStatusOutOfStock — остаток исчерпан; выставляется автоматически.
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
)

// Product — каталожная запись. Сервис заказов читает её и мутирует
// только счётчик Stock (и производный Status).
type Product struct {
	ID            string
	Name          string
	CategoryID    string
	Price         int64
	DiscountPrice int64 // 0 означает отсутствие скидки
	Stock         int32
	Status        ProductStatus
	ImageURL      string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectivePrice возвращает цену с учётом скидки.
func (p *Product) EffectivePrice() int64 {
	if p.DiscountPrice > 0 && p.DiscountPrice < p.Price {
		return p.DiscountPrice
	}
	return p.Price
}

// Sellable сообщает, можно ли продать qty единиц прямо сейчас.
func (p *Product) Sellable(qty int32) error {
	if p.Status != ProductStatusAvailable {
		return ErrProductUnavailable
	}
	if p.Stock < qty {
		return ErrOutOfStock
	}
	return nil
}
