package domain

import "time"

// StockLedger описывает складской журнал: резервирование и возврат остатка.
// Reserve не идемпотентен — вызывающий обязан вызвать его ровно один раз
// на каждую продаваемую позицию и компенсировать через Release при сбое.
type StockLedger interface {
	// Reserve атомарно резервирует qty единиц товара под заказ.
	Reserve(productID string, qty int32) error
	// Release снимает резерв (компенсация при отмене/сбое).
	Release(productID string, qty int32) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// CheckoutStep задаёт константы шагов оформления для метрик/логов.
type CheckoutStep string

const (
	CheckoutStepReserve CheckoutStep = "reserve"
	CheckoutStepVoucher CheckoutStep = "voucher"
	CheckoutStepRedeem  CheckoutStep = "redeem"
	CheckoutStepPersist CheckoutStep = "persist"
	CheckoutStepEarn    CheckoutStep = "earn"
	CheckoutStepRelease CheckoutStep = "release"
)
