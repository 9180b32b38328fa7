package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
// Складские примитивы реализованы одним условным UPDATE: нулевое число
// затронутых строк раскладывается на доменную причину дочитыванием статуса.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, category_id, price, discount_price, stock, status,
			image_url, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		product.ID, product.Name, product.CategoryID, product.Price,
		product.DiscountPrice, product.Stock, string(product.Status),
		product.ImageURL, product.Version, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if _, unique := uniqueViolation(err); unique {
			return fmt.Errorf("product %s already exists", product.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		product domain.Product
		status  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, category_id, price, discount_price, stock, status,
		       image_url, version, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Name, &product.CategoryID, &product.Price,
		&product.DiscountPrice, &product.Stock, &status,
		&product.ImageURL, &product.Version, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.Status = domain.ProductStatus(status)

	return product, nil
}

func (r *productRepository) ReserveStock(id string, qty int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    status = CASE WHEN stock - $2 = 0 THEN 'out_of_stock' ELSE status END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'available'
		  AND stock >= $2
	`, id, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// UPDATE никого не зацепил: выясняем доменную причину.
	product, err := r.Get(id)
	if err != nil {
		return err
	}
	if product.Status != domain.ProductStatusAvailable {
		return fmt.Errorf("%w: product %s is %s", domain.ErrProductUnavailable, id, product.Status)
	}
	return fmt.Errorf("%w: product %s has %d left, requested %d", domain.ErrOutOfStock, id, product.Stock, qty)
}

func (r *productRepository) ReleaseStock(id string, qty int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    status = CASE WHEN status = 'out_of_stock' THEN 'available' ELSE status END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
