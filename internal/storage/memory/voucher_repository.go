package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// voucherRepositoryInMemory — in-memory хранилище ваучеров с индексом по коду.
type voucherRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Voucher
	byCode map[string]string // нормализованный код -> voucherID
}

// NewVoucherRepository возвращает in-memory реализацию VoucherRepository.
func NewVoucherRepository() domain.VoucherRepository {
	return &voucherRepositoryInMemory{
		items:  make(map[string]domain.Voucher),
		byCode: make(map[string]string),
	}
}

// Create сохраняет ваучер и индексирует его по нормализованному коду.
func (r *voucherRepositoryInMemory) Create(voucher domain.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	voucher.Code = domain.NormalizeVoucherCode(voucher.Code)
	r.items[voucher.ID] = voucher
	r.byCode[voucher.Code] = voucher.ID
	return nil
}

// GetByCode ищет ваучер по нормализованному коду.
func (r *voucherRepositoryInMemory) GetByCode(code string) (domain.Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[domain.NormalizeVoucherCode(code)]
	if !ok {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}
	return r.items[id], nil
}

// IncrementUsage атомарно увеличивает глобальный счётчик, не превышая MaxUsage.
func (r *voucherRepositoryInMemory) IncrementUsage(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	voucher, ok := r.items[id]
	if !ok {
		return domain.ErrVoucherNotFound
	}
	if voucher.MaxUsage > 0 && voucher.UsageCount >= voucher.MaxUsage {
		return fmt.Errorf("%w: voucher %s", domain.ErrVoucherExhausted, voucher.Code)
	}

	voucher.UsageCount++
	voucher.UpdatedAt = time.Now().UTC()
	r.items[id] = voucher
	return nil
}

var _ domain.VoucherRepository = (*voucherRepositoryInMemory)(nil)

// userVoucherKey — составной ключ строки (user, voucher).
type userVoucherKey struct {
	userID    string
	voucherID string
}

// userVoucherRepositoryInMemory — in-memory учёт использования ваучеров
// по пользователям.
type userVoucherRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[userVoucherKey]domain.UserVoucher
}

// NewUserVoucherRepository возвращает in-memory реализацию UserVoucherRepository.
func NewUserVoucherRepository() domain.UserVoucherRepository {
	return &userVoucherRepositoryInMemory{
		items: make(map[userVoucherKey]domain.UserVoucher),
	}
}

// Get возвращает строку (user, voucher); отсутствие — строка с нулевым счётчиком.
func (r *userVoucherRepositoryInMemory) Get(userID, voucherID string) (domain.UserVoucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.items[userVoucherKey{userID, voucherID}]
	if !ok {
		return domain.UserVoucher{UserID: userID, VoucherID: voucherID}, nil
	}
	return row, nil
}

// IncrementUsage атомарно увеличивает счётчик пользователя (upsert),
// не превышая maxPerUser (0 — без лимита).
func (r *userVoucherRepositoryInMemory) IncrementUsage(userID, voucherID string, maxPerUser int64, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := userVoucherKey{userID, voucherID}
	row, ok := r.items[key]
	if !ok {
		row = domain.UserVoucher{UserID: userID, VoucherID: voucherID}
	}
	if maxPerUser > 0 && row.UsageCount >= maxPerUser {
		return fmt.Errorf("%w: per-user usage limit reached", domain.ErrVoucherNotApplicable)
	}

	row.UsageCount++
	ts := usedAt
	row.LastUsedAt = &ts
	r.items[key] = row
	return nil
}

var _ domain.UserVoucherRepository = (*userVoucherRepositoryInMemory)(nil)
