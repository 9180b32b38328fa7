package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// cartRepositoryInMemory — in-memory корзины: одна корзина на пользователя.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Cart
}

// NewCartRepository возвращает in-memory реализацию CartRepository.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{
		items: make(map[string]domain.Cart),
	}
}

// Get возвращает корзину пользователя; отсутствие корзины — пустая корзина.
func (r *cartRepositoryInMemory) Get(userID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.items[userID]
	if !ok {
		return domain.Cart{UserID: userID}, nil
	}
	return cart, nil
}

// Put перезаписывает корзину целиком.
func (r *cartRepositoryInMemory) Put(cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart.UpdatedAt = time.Now().UTC()
	r.items[cart.UserID] = cart
	return nil
}

// Clear очищает позиции, не удаляя корзину.
func (r *cartRepositoryInMemory) Clear(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.items[userID]
	if !ok {
		return nil
	}
	cart.Items = nil
	cart.UpdatedAt = time.Now().UTC()
	r.items[userID] = cart
	return nil
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
