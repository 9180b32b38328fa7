package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// productRepositoryInMemory — in-memory каталог с атомарными складскими
// примитивами. Вся мутация остатка идёт под одним мьютексом, поэтому
// read-modify-write гонки невозможны по построению.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory реализацию ProductRepository.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Create сохраняет товар; повторный ID перезаписывает запись.
func (r *productRepositoryInMemory) Create(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[product.ID] = product
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// ReserveStock атомарно списывает qty со склада.
// При исчерпании остатка товар переводится в out_of_stock.
func (r *productRepositoryInMemory) ReserveStock(id string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Status != domain.ProductStatusAvailable {
		return domain.ErrProductUnavailable
	}
	if product.Stock < qty {
		return domain.ErrOutOfStock
	}

	product.Stock -= qty
	if product.Stock == 0 {
		product.Status = domain.ProductStatusOutOfStock
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

// ReleaseStock атомарно возвращает qty на склад (компенсация).
// Товар в out_of_stock с ненулевым остатком возвращается в available.
func (r *productRepositoryInMemory) ReleaseStock(id string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}

	product.Stock += qty
	if product.Status == domain.ProductStatusOutOfStock && product.Stock > 0 {
		product.Status = domain.ProductStatusAvailable
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
