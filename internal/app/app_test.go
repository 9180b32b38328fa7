package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new dependencies: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	if deps.Orders == nil || deps.Products == nil || deps.Carts == nil {
		t.Fatal("expected order/product/cart repositories")
	}
	if deps.Vouchers == nil || deps.UserVouchers == nil || deps.Loyalty == nil || deps.Outbox == nil {
		t.Fatal("expected voucher/loyalty/outbox repositories")
	}
	if deps.Store != nil {
		t.Fatal("memory driver must not open postgres store")
	}
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"
	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

// Полный проход через собранное приложение: оформление заказа через
// HTTP-слой поверх in-memory хранилищ и событие в outbox.
func TestBuildServices_EndToEndPlacement(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new dependencies: %v", err)
	}

	now := time.Now().UTC()
	if err := deps.Products.Create(domain.Product{
		ID:        "p1",
		Name:      "Pho Bo",
		Price:     60000,
		Stock:     5,
		Status:    domain.ProductStatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	svc := buildServices(deps)
	router := buildHTTPServer(deps, svc, deps.Logger).Router()

	body := `{
		"items": [{"product_id": "p1", "quantity": 2}],
		"shipping_address": {
			"full_name": "Nguyen Van A",
			"phone_number": "0900000000",
			"address": "1 Le Loi",
			"city": "Da Nang"
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order struct {
			ID          string `json:"id"`
			FinalAmount int64  `json:"final_amount"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.FinalAmount != 120000 {
		t.Fatalf("expected final amount 120000, got %d", resp.Order.FinalAmount)
	}

	product, err := deps.Products.Get("p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 3 {
		t.Fatalf("expected stock 3 after placement, got %d", product.Stock)
	}

	pending, err := deps.Outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "order.created" {
		t.Fatalf("expected one order.created event, got %+v", pending)
	}
}
