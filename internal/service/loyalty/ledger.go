package loyalty

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// AccountSummary — счёт лояльности вместе с прогрессом до следующего уровня.
type AccountSummary struct {
	Account          domain.LoyaltyAccount
	NextTier         domain.LoyaltyTier
	PointsToNextTier int64
	HasNextTier      bool
}

// Ledger управляет счетами лояльности: начисление, списание, журнал.
// Все расчёты идут через константы экономики из пакета domain, поэтому
// preview-пути и пути оформления заказа не могут разойтись.
type Ledger struct {
	accounts domain.LoyaltyRepository
	logger   *log.Entry
}

// NewLedger создаёт сервис лояльности.
func NewLedger(accounts domain.LoyaltyRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "loyalty")
	}
	return &Ledger{accounts: accounts, logger: logger}
}

// Account возвращает счёт пользователя с прогрессом до следующего уровня.
func (l *Ledger) Account(userID string) (AccountSummary, error) {
	account, err := l.accounts.GetOrCreate(userID)
	if err != nil {
		return AccountSummary{}, err
	}

	next, needed, ok := domain.NextTier(account.LifetimePoints)
	return AccountSummary{
		Account:          account,
		NextTier:         next,
		PointsToNextTier: needed,
		HasNextTier:      ok,
	}, nil
}

// Earn начисляет баллы за оплаченную сумму заказа и пишет запись в журнал.
// Множитель берётся от уровня, действовавшего ДО этого начисления.
// Возвращает количество начисленных баллов.
func (l *Ledger) Earn(userID, orderID string, amount int64, now time.Time) (int64, error) {
	account, err := l.accounts.GetOrCreate(userID)
	if err != nil {
		return 0, err
	}

	points := domain.EarnedPoints(amount, account.Tier)
	if points == 0 {
		return 0, nil
	}

	updated, err := l.accounts.Credit(userID, points)
	if err != nil {
		return 0, err
	}

	tx := domain.PointTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         domain.PointTxEarn,
		Points:       points,
		Description:  fmt.Sprintf("Earned from order %s", orderID),
		OrderID:      orderID,
		BalanceAfter: updated.AvailablePoints,
		CreatedAt:    now,
	}
	if err := l.accounts.AppendTransaction(tx); err != nil {
		// Баланс уже обновлён; расхождение журнала только логируем.
		l.logger.WithError(err).WithFields(log.Fields{
			"user_id":  userID,
			"order_id": orderID,
		}).Error("failed to append earn transaction")
	}

	if updated.Tier != account.Tier {
		l.logger.WithFields(log.Fields{
			"user_id":  userID,
			"old_tier": account.Tier,
			"new_tier": updated.Tier,
		}).Info("loyalty tier upgraded")
	}

	return points, nil
}

// Redeem списывает баллы под заказ и возвращает денежный эквивалент скидки.
func (l *Ledger) Redeem(userID, orderID string, points int64, now time.Time) (int64, error) {
	if points < domain.MinRedeemPoints {
		return 0, fmt.Errorf("%w: requested %d, minimum %d", domain.ErrPointsBelowMinimum, points, domain.MinRedeemPoints)
	}

	updated, err := l.accounts.Debit(userID, points)
	if err != nil {
		return 0, err
	}

	tx := domain.PointTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         domain.PointTxRedeem,
		Points:       points,
		Description:  fmt.Sprintf("Redeemed for order %s", orderID),
		OrderID:      orderID,
		BalanceAfter: updated.AvailablePoints,
		CreatedAt:    now,
	}
	if err := l.accounts.AppendTransaction(tx); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"user_id":  userID,
			"order_id": orderID,
		}).Error("failed to append redeem transaction")
	}

	return domain.RedeemDiscount(points), nil
}

// RedeemQuote — результат предварительного расчёта списания: скидка
// и остаток баллов после него.
type RedeemQuote struct {
	Points    int64
	Discount  int64
	Remaining int64
}

// RedeemPreview считает скидку и остаток баллов без мутации счёта.
// Использует те же проверки и константы, что и Redeem.
func (l *Ledger) RedeemPreview(userID string, points int64) (RedeemQuote, error) {
	if points < domain.MinRedeemPoints {
		return RedeemQuote{}, fmt.Errorf("%w: requested %d, minimum %d", domain.ErrPointsBelowMinimum, points, domain.MinRedeemPoints)
	}

	account, err := l.accounts.GetOrCreate(userID)
	if err != nil {
		return RedeemQuote{}, err
	}
	if account.AvailablePoints < points {
		return RedeemQuote{}, domain.ErrInsufficientPoints
	}

	return RedeemQuote{
		Points:    points,
		Discount:  domain.RedeemDiscount(points),
		Remaining: account.AvailablePoints - points,
	}, nil
}

// Adjust — административная корректировка баланса. Положительная дельта
// начисляется как ADMIN_ADJUSTMENT, отрицательная списывается как REDEEM,
// чтобы воспроизведение журнала по SignedDelta оставалось согласованным.
func (l *Ledger) Adjust(userID string, delta int64, description string, now time.Time) (domain.LoyaltyAccount, error) {
	var (
		updated domain.LoyaltyAccount
		err     error
		txType  domain.PointTransactionType
		points  int64
	)

	switch {
	case delta > 0:
		txType = domain.PointTxAdminAdjustment
		points = delta
		updated, err = l.accounts.Credit(userID, delta)
	case delta < 0:
		txType = domain.PointTxRedeem
		points = -delta
		updated, err = l.accounts.Debit(userID, -delta)
	default:
		return l.accounts.GetOrCreate(userID)
	}
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}

	tx := domain.PointTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         txType,
		Points:       points,
		Description:  description,
		BalanceAfter: updated.AvailablePoints,
		CreatedAt:    now,
	}
	if err := l.accounts.AppendTransaction(tx); err != nil {
		l.logger.WithError(err).WithField("user_id", userID).Error("failed to append adjustment transaction")
	}

	return updated, nil
}

// History возвращает страницу журнала баллов пользователя.
func (l *Ledger) History(userID string, filter domain.PointTransactionFilter) ([]domain.PointTransaction, int, error) {
	return l.accounts.ListTransactions(userID, filter)
}
