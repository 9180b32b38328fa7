package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

func seedProduct(t *testing.T, repo domain.ProductRepository, stock int32) {
	t.Helper()
	err := repo.Create(domain.Product{
		ID:     "product-1",
		Name:   "Banh mi",
		Price:  30000,
		Stock:  stock,
		Status: domain.ProductStatusAvailable,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestProductRepository_ReserveStock(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, 5)

	if err := repo.ReserveStock("product-1", 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	product, err := repo.Get("product-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if product.Stock != 2 {
		t.Fatalf("stock = %d, want 2", product.Stock)
	}

	if err := repo.ReserveStock("product-1", 3); !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
}

func TestProductRepository_ReserveStock_FlipsStatus(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, 2)

	if err := repo.ReserveStock("product-1", 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	product, _ := repo.Get("product-1")
	if product.Status != domain.ProductStatusOutOfStock {
		t.Fatalf("status = %s, want out_of_stock", product.Status)
	}

	// Дальнейшие резервы отклоняются уже по статусу.
	if err := repo.ReserveStock("product-1", 1); !errors.Is(err, domain.ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}

	// Возврат остатка восстанавливает продажу.
	if err := repo.ReleaseStock("product-1", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	product, _ = repo.Get("product-1")
	if product.Status != domain.ProductStatusAvailable || product.Stock != 1 {
		t.Fatalf("after release: status=%s stock=%d", product.Status, product.Stock)
	}
}

func TestProductRepository_ReserveStock_Unavailable(t *testing.T) {
	repo := NewProductRepository()
	if err := repo.Create(domain.Product{
		ID:     "product-2",
		Stock:  10,
		Status: domain.ProductStatusUnavailable,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.ReserveStock("product-2", 1); !errors.Is(err, domain.ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}
}

// Конкурентные резервы не должны увести остаток в минус.
func TestProductRepository_ConcurrentReserve_NoOversell(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, 50)

	const workers = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.ReserveStock("product-1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Fatalf("succeeded = %d, want exactly 50", succeeded)
	}
	product, _ := repo.Get("product-1")
	if product.Stock != 0 {
		t.Fatalf("stock = %d, want 0", product.Stock)
	}
	if product.Status != domain.ProductStatusOutOfStock {
		t.Fatalf("status = %s, want out_of_stock", product.Status)
	}
}
