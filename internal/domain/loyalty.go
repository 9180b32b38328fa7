package domain

import "time"

// Экономика программы лояльности. Константы определены один раз и
// используются и при оформлении заказа, и в preview-эндпоинтах:
// расхождение этих путей — класс ошибок, который ловит тестовый набор.
const (
	// PointsEarnDivisor — 1 балл за каждые полные 1000 VND оплаченной суммы.
	PointsEarnDivisor int64 = 1000
	// CurrencyPerPoint — 1 балл даёт 10 VND скидки при списании.
	CurrencyPerPoint int64 = 10
	// MinRedeemPoints — минимальное списание за одну операцию.
	// Порог применяет оркестратор, а не сам ledger.
	MinRedeemPoints int64 = 100
)

// LoyaltyTier — уровень участника программы, чистая функция от lifetimePoints.
type LoyaltyTier string

const (
	TierBronze   LoyaltyTier = "BRONZE"
	TierSilver   LoyaltyTier = "SILVER"
	TierGold     LoyaltyTier = "GOLD"
	TierPlatinum LoyaltyTier = "PLATINUM"
)

// Пороги уровней по lifetimePoints.
const (
	tierSilverThreshold   int64 = 2000
	tierGoldThreshold     int64 = 5000
	tierPlatinumThreshold int64 = 10000
)

// TierFor выводит уровень из lifetimePoints.
func TierFor(lifetimePoints int64) LoyaltyTier {
	switch {
	case lifetimePoints >= tierPlatinumThreshold:
		return TierPlatinum
	case lifetimePoints >= tierGoldThreshold:
		return TierGold
	case lifetimePoints >= tierSilverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// Multiplier возвращает множитель начисления для уровня.
func (t LoyaltyTier) Multiplier() float64 {
	switch t {
	case TierSilver:
		return 1.2
	case TierGold:
		return 1.5
	case TierPlatinum:
		return 2.0
	default:
		return 1.0
	}
}

// NextTier возвращает следующий уровень и недостающие баллы.
// Для PLATINUM следующего уровня нет.
func NextTier(lifetimePoints int64) (LoyaltyTier, int64, bool) {
	switch {
	case lifetimePoints >= tierPlatinumThreshold:
		return "", 0, false
	case lifetimePoints >= tierGoldThreshold:
		return TierPlatinum, tierPlatinumThreshold - lifetimePoints, true
	case lifetimePoints >= tierSilverThreshold:
		return TierGold, tierGoldThreshold - lifetimePoints, true
	default:
		return TierSilver, tierSilverThreshold - lifetimePoints, true
	}
}

// BasePoints — базовое начисление за сумму заказа до учёта уровня.
func BasePoints(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return amount / PointsEarnDivisor
}

// EarnedPoints — итоговое начисление: floor(базовые баллы * множитель уровня).
// Множитель берётся от уровня ДО пересчёта, вызванного этим же начислением.
func EarnedPoints(amount int64, tier LoyaltyTier) int64 {
	return int64(float64(BasePoints(amount)) * tier.Multiplier())
}

// RedeemDiscount — денежный эквивалент списываемых баллов.
func RedeemDiscount(points int64) int64 {
	if points <= 0 {
		return 0
	}
	return points * CurrencyPerPoint
}

// LoyaltyAccount — счёт лояльности, ровно один на пользователя.
type LoyaltyAccount struct {
	UserID          string
	TotalPoints     int64
	AvailablePoints int64
	LifetimePoints  int64
	Tier            LoyaltyTier
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PointTransactionType — тип записи в журнале баллов.
type PointTransactionType string

const (
	PointTxEarn            PointTransactionType = "EARN"
	PointTxRedeem          PointTransactionType = "REDEEM"
	PointTxExpired         PointTransactionType = "EXPIRED"
	PointTxAdminAdjustment PointTransactionType = "ADMIN_ADJUSTMENT"
)

// PointTransaction — append-only запись журнала баллов. Points всегда
// положительное число, направление задаёт Type.
type PointTransaction struct {
	ID           string
	UserID       string
	Type         PointTransactionType
	Points       int64
	Description  string
	OrderID      string
	BalanceAfter int64
	CreatedAt    time.Time
}

// SignedDelta возвращает вклад записи в availablePoints: воспроизведение
// всех записей пользователя в порядке создания обязано дать текущий баланс.
func (t *PointTransaction) SignedDelta() int64 {
	switch t.Type {
	case PointTxRedeem, PointTxExpired:
		return -t.Points
	default:
		return t.Points
	}
}
