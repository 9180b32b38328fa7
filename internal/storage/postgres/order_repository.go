package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, user_id, order_number, status, payment_method, payment_status,
	shipping_full_name, shipping_phone, shipping_address, shipping_ward,
	shipping_district, shipping_city, shipping_note,
	total_amount, shipping_fee, voucher_code, voucher_discount,
	points_used, points_discount, points_earned, final_amount,
	note, cancel_reason, delivered_at, cancelled_at,
	version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
	`, orderArgs(&order)...)
	if err != nil {
		if constraint, unique := uniqueViolation(err); unique {
			if strings.Contains(constraint, "order_number") {
				return domain.ErrOrderNumberTaken
			}
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, quantity, unit_price, name, image_url, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			item.ID, order.ID, item.ProductID, item.Quantity,
			item.UnitPrice, item.Name, item.ImageURL, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *orderRepository) GetByNumber(number string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getOne(ctx, `WHERE order_number = $1`, number)
}

func (r *orderRepository) getOne(ctx context.Context, where string, arg interface{}) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByUser(userID string, filter domain.OrderFilter) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	where := `WHERE user_id = $1`
	args := []interface{}{userID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM orders %s
		ORDER BY created_at DESC, id DESC
		LIMIT %d OFFSET %d
	`, orderColumns, where, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, 0, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, total, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    points_earned = $3,
		    cancel_reason = $4,
		    delivered_at = $5,
		    cancelled_at = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $8
		  AND version = $9
	`,
		string(order.Status),
		string(order.PaymentStatus),
		order.PointsEarned,
		order.CancelReason,
		order.DeliveredAt,
		order.CancelledAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price, name, image_url, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.Name, &item.ImageURL, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func orderArgs(order *domain.Order) []interface{} {
	return []interface{}{
		order.ID, order.UserID, order.OrderNumber, string(order.Status),
		string(order.PaymentMethod), string(order.PaymentStatus),
		order.ShippingAddress.FullName, order.ShippingAddress.PhoneNumber,
		order.ShippingAddress.Address, order.ShippingAddress.Ward,
		order.ShippingAddress.District, order.ShippingAddress.City,
		order.ShippingAddress.Note,
		order.TotalAmount, order.ShippingFee, order.VoucherCode, order.VoucherDiscount,
		order.PointsUsed, order.PointsDiscount, order.PointsEarned, order.FinalAmount,
		order.Note, order.CancelReason, order.DeliveredAt, order.CancelledAt,
		order.Version, order.CreatedAt, order.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                        domain.Order
		status, payMethod, payStatus string
		deliveredAt, cancelledAt     sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.UserID, &order.OrderNumber, &status, &payMethod, &payStatus,
		&order.ShippingAddress.FullName, &order.ShippingAddress.PhoneNumber,
		&order.ShippingAddress.Address, &order.ShippingAddress.Ward,
		&order.ShippingAddress.District, &order.ShippingAddress.City,
		&order.ShippingAddress.Note,
		&order.TotalAmount, &order.ShippingFee, &order.VoucherCode, &order.VoucherDiscount,
		&order.PointsUsed, &order.PointsDiscount, &order.PointsEarned, &order.FinalAmount,
		&order.Note, &order.CancelReason, &deliveredAt, &cancelledAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(payMethod)
	order.PaymentStatus = domain.PaymentStatus(payStatus)
	if deliveredAt.Valid {
		ts := deliveredAt.Time.UTC()
		order.DeliveredAt = &ts
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time.UTC()
		order.CancelledAt = &ts
	}

	return order, nil
}

// uniqueViolation возвращает имя нарушенного ограничения при ошибке 23505.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
