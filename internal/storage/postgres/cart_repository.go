package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Позиции корзины хранятся единым JSONB-документом: корзина всегда
// читается и перезаписывается целиком.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

type cartItemRow struct {
	ProductID string    `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	AddedAt   time.Time `json:"added_at"`
}

func (r *cartRepository) Get(userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		raw       []byte
		updatedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT items, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Отсутствующая корзина равнозначна пустой.
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	var rows []cartItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart items: %w", err)
	}

	cart := domain.Cart{UserID: userID, UpdatedAt: updatedAt.UTC()}
	for _, row := range rows {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			UnitPrice: row.UnitPrice,
			AddedAt:   row.AddedAt,
		})
	}

	return cart, nil
}

func (r *cartRepository) Put(cart domain.Cart) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows := make([]cartItemRow, 0, len(cart.Items))
	for _, item := range cart.Items {
		rows = append(rows, cartItemRow{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			AddedAt:   item.AddedAt,
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, items, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET items = EXCLUDED.items,
		    updated_at = EXCLUDED.updated_at
	`, cart.UserID, raw, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}

	return nil
}

func (r *cartRepository) Clear(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE carts
		SET items = '[]'::jsonb,
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
