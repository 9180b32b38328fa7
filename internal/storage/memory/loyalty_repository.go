package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// loyaltyRepositoryInMemory — in-memory счета лояльности и журнал баллов.
// Credit и Debit выполняются под одним мьютексом и потому атомарны.
type loyaltyRepositoryInMemory struct {
	mu           sync.RWMutex
	accounts     map[string]domain.LoyaltyAccount
	transactions map[string][]domain.PointTransaction
}

// NewLoyaltyRepository возвращает in-memory реализацию LoyaltyRepository.
func NewLoyaltyRepository() domain.LoyaltyRepository {
	return &loyaltyRepositoryInMemory{
		accounts:     make(map[string]domain.LoyaltyAccount),
		transactions: make(map[string][]domain.PointTransaction),
	}
}

// GetOrCreate возвращает счёт пользователя, создавая пустой при отсутствии.
func (r *loyaltyRepositoryInMemory) GetOrCreate(userID string) (domain.LoyaltyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getOrCreateLocked(userID), nil
}

func (r *loyaltyRepositoryInMemory) getOrCreateLocked(userID string) domain.LoyaltyAccount {
	account, ok := r.accounts[userID]
	if !ok {
		now := time.Now().UTC()
		account = domain.LoyaltyAccount{
			UserID:    userID,
			Tier:      domain.TierBronze,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.accounts[userID] = account
	}
	return account
}

// Credit атомарно начисляет points и пересчитывает уровень по lifetimePoints.
func (r *loyaltyRepositoryInMemory) Credit(userID string, points int64) (domain.LoyaltyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.getOrCreateLocked(userID)
	account.TotalPoints += points
	account.AvailablePoints += points
	account.LifetimePoints += points
	account.Tier = domain.TierFor(account.LifetimePoints)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[userID] = account
	return account, nil
}

// Debit атомарно списывает points только с availablePoints.
func (r *loyaltyRepositoryInMemory) Debit(userID string, points int64) (domain.LoyaltyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.getOrCreateLocked(userID)
	if account.AvailablePoints < points {
		return domain.LoyaltyAccount{}, domain.ErrInsufficientPoints
	}
	account.AvailablePoints -= points
	account.UpdatedAt = time.Now().UTC()
	r.accounts[userID] = account
	return account, nil
}

// AppendTransaction добавляет запись в append-only журнал.
func (r *loyaltyRepositoryInMemory) AppendTransaction(tx domain.PointTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transactions[tx.UserID] = append(r.transactions[tx.UserID], tx)
	return nil
}

// ListTransactions возвращает страницу журнала (новые сначала) и общее число.
func (r *loyaltyRepositoryInMemory) ListTransactions(userID string, filter domain.PointTransactionFilter) ([]domain.PointTransaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.transactions[userID]
	matched := make([]domain.PointTransaction, 0, len(all))
	for _, tx := range all {
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		matched = append(matched, tx)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page, limit := normalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit
	if offset >= total {
		return []domain.PointTransaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

var _ domain.LoyaltyRepository = (*loyaltyRepositoryInMemory)(nil)
