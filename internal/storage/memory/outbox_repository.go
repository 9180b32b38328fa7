package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    string
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// outboxRepositoryInMemory — in-memory реализация transactional outbox.
// order хранит идентификаторы в порядке постановки, чтобы PullPending
// отдавал сообщения по FIFO, как и Postgres-реализация.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	order   []string
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{entries: make(map[string]*outboxEntry)}
}

// Enqueue сохраняет сообщение со статусом pending, генерируя ID при
// необходимости.
func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if _, exists := r.entries[msg.ID]; !exists {
		r.order = append(r.order, msg.ID)
	}
	r.entries[msg.ID] = &outboxEntry{
		msg:       msg,
		status:    outboxPending,
		createdAt: now,
		updatedAt: now,
	}

	return msg, nil
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	batch := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.order {
		entry := r.entries[id]
		if entry == nil || entry.status != outboxPending {
			continue
		}
		batch = append(batch, entry.msg)
		if len(batch) == limit {
			break
		}
	}

	return batch, nil
}

func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.setStatus(id, outboxSent)
}

func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.setStatus(id, outboxFailed)
}

func (r *outboxRepositoryInMemory) setStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxPublish
	}

	entry.status = status
	entry.attempts++
	entry.updatedAt = time.Now().UTC()
	return nil
}

// Stats считает backlog pending-сообщений и время самого старого из них.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if entry.status != outboxPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || entry.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = entry.createdAt
		}
	}

	return stats, nil
}

// AllPending возвращает копию pending-сообщений. Нужен интеграционным тестам,
// проверяющим, какие события заказ положил в outbox.
func (r *outboxRepositoryInMemory) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	total := len(r.order)
	r.mu.RUnlock()

	if total == 0 {
		return nil
	}
	pending, _ := r.PullPending(total)
	return pending
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
