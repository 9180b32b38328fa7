package domain

import "time"

// OrderFilter задаёт выборку заказов с пагинацией.
type OrderFilter struct {
	Status OrderStatus // пустой статус — без фильтра
	Page   int
	Limit  int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderVersionConflict,
	// если запись с таким ID уже существует, и ErrOrderNumberTaken при
	// коллизии номера заказа.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetByNumber ищет заказ по человекочитаемому номеру.
	GetByNumber(number string) (Order, error)
	// ListByUser возвращает страницу заказов пользователя и общее число.
	ListByUser(userID string, filter OrderFilter) ([]Order, int, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// ProductRepository описывает хранилище каталога с атомарными складскими
// примитивами. ReserveStock и ReleaseStock обязаны быть атомарными на
// уровне стора (conditional update, не read-modify-write).
type ProductRepository interface {
	Create(product Product) error
	Get(id string) (Product, error)
	// ReserveStock атомарно списывает qty со склада: ErrOutOfStock при
	// нехватке, ErrProductUnavailable если товар не в статусе available.
	// При достижении нулевого остатка переводит товар в out_of_stock.
	ReserveStock(id string, qty int32) error
	// ReleaseStock атомарно возвращает qty на склад; товар в out_of_stock
	// с ненулевым остатком возвращается в available.
	ReleaseStock(id string, qty int32) error
}

// CartRepository описывает хранилище корзин (одна корзина на пользователя).
type CartRepository interface {
	// Get возвращает корзину пользователя; отсутствие корзины — пустая корзина.
	Get(userID string) (Cart, error)
	// Put перезаписывает корзину целиком.
	Put(cart Cart) error
	// Clear очищает позиции, не удаляя корзину.
	Clear(userID string) error
}

// VoucherRepository описывает хранилище ваучеров.
type VoucherRepository interface {
	Create(voucher Voucher) error
	// GetByCode ищет ваучер по нормализованному коду или ErrVoucherNotFound.
	GetByCode(code string) (Voucher, error)
	// IncrementUsage атомарно увеличивает глобальный счётчик, не превышая
	// MaxUsage; ErrVoucherExhausted при достижении лимита.
	IncrementUsage(id string) error
}

// UserVoucherRepository хранит использование ваучеров по пользователям.
type UserVoucherRepository interface {
	// Get возвращает строку (user, voucher); отсутствие — строка с нулевым
	// счётчиком.
	Get(userID, voucherID string) (UserVoucher, error)
	// IncrementUsage атомарно увеличивает счётчик пользователя (upsert),
	// не превышая maxPerUser (0 — без лимита); ErrVoucherNotApplicable
	// при достижении лимита.
	IncrementUsage(userID, voucherID string, maxPerUser int64, usedAt time.Time) error
}

// PointTransactionFilter задаёт выборку журнала баллов.
type PointTransactionFilter struct {
	Type  PointTransactionType // пустой тип — без фильтра
	Page  int
	Limit int
}

// LoyaltyRepository описывает хранилище счетов лояльности и журнала баллов.
// Credit и Debit — атомарные примитивы баланса.
type LoyaltyRepository interface {
	// GetOrCreate возвращает счёт пользователя, создавая пустой при отсутствии.
	GetOrCreate(userID string) (LoyaltyAccount, error)
	// Credit атомарно начисляет points на totalPoints, availablePoints и
	// lifetimePoints и пересчитывает уровень; возвращает обновлённый счёт.
	Credit(userID string, points int64) (LoyaltyAccount, error)
	// Debit атомарно списывает points только с availablePoints;
	// ErrInsufficientPoints, если баланс меньше points.
	Debit(userID string, points int64) (LoyaltyAccount, error)
	// AppendTransaction добавляет запись в append-only журнал.
	AppendTransaction(tx PointTransaction) error
	// ListTransactions возвращает страницу журнала (новые сначала) и общее число.
	ListTransactions(userID string, filter PointTransactionFilter) ([]PointTransaction, int, error)
}
