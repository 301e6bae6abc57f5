package loyalty

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientPoints is returned by Redeem when the balance does not cover the reward.
var ErrInsufficientPoints = errors.New("insufficient points")

// Account is a customer's loyalty state, keyed by phone number.
type Account struct {
	Phone       string          `json:"phone"`
	Points      int             `json:"points"`
	Tier        Tier            `json:"tier"`
	TotalOrders int             `json:"total_orders"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewAccount returns a fresh bronze account.
func NewAccount(phone string, now time.Time) Account {
	return Account{
		Phone:      phone,
		Tier:       Bronze,
		TotalSpent: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RewardKind is what a reward grants.
type RewardKind string

const (
	KindDiscount     RewardKind = "discount"
	KindFreeDelivery RewardKind = "free_delivery"
	KindFreeItem     RewardKind = "free_item"
)

// Valid reports whether k is a known reward kind.
func (k RewardKind) Valid() bool {
	return k == KindDiscount || k == KindFreeDelivery || k == KindFreeItem
}

// Reward is a catalog entry that can be bought with points.
type Reward struct {
	ID            string          `json:"id"`
	PointsCost    int             `json:"points_cost"`
	Description   string          `json:"description"`
	DescriptionEn string          `json:"description_en,omitempty"`
	Kind          RewardKind      `json:"kind"`
	Value         decimal.Decimal `json:"value"`
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryEarned   EntryType = "earned"
	EntryRedeemed EntryType = "redeemed"
)

// LedgerEntry is an immutable record of one point balance change.
type LedgerEntry struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	Type        EntryType `json:"type"`
	Points      int       `json:"points"`
	Description string    `json:"description"`
	OrderID     string    `json:"order_id,omitempty"`
	RewardID    string    `json:"reward_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Promote raises the account's tier to match its order count and spend.
// Tiers never go down.
func Promote(a Account) Account {
	a.Tier = Max(a.Tier, TierFor(a.TotalOrders, a.TotalSpent))
	return a
}

// ProgressToNextLevel returns the percentage [0,100] of the way from the
// account's progress units to the next tier's units. Progress units are
// min(total_orders, total_spent/10). The top tier always reports 100.
func ProgressToNextLevel(a Account) float64 {
	next, ok := a.Tier.Next()
	if !ok {
		return 100
	}
	target := progressUnits(next.Orders, next.Spend)
	if !target.IsPositive() {
		return 100
	}
	units := progressUnits(a.TotalOrders, a.TotalSpent)
	if units.IsNegative() {
		return 0
	}
	pct := units.Div(target).Mul(decimal.NewFromInt(100))
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return 100
	}
	f, _ := pct.Round(2).Float64()
	return f
}

// Redeem spends reward.PointsCost from the account. On success it returns
// the updated account and a "redeemed" ledger entry with negative points.
// With too few points it returns ErrInsufficientPoints and the account unchanged.
func Redeem(a Account, reward Reward, now time.Time) (Account, LedgerEntry, error) {
	if reward.PointsCost < 0 {
		return a, LedgerEntry{}, fmt.Errorf("reward %s has a negative cost", reward.ID)
	}
	if a.Points < reward.PointsCost {
		return a, LedgerEntry{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, a.Points, reward.PointsCost)
	}
	a.Points -= reward.PointsCost
	a.UpdatedAt = now
	entry := LedgerEntry{
		ID:          uuid.NewString(),
		Phone:       a.Phone,
		Type:        EntryRedeemed,
		Points:      -reward.PointsCost,
		Description: reward.Description,
		RewardID:    reward.ID,
		CreatedAt:   now,
	}
	return a, entry, nil
}

// Earn records a completed order of amount against the account. Points are
// granted at the rate of the tier held before the order, then the tier is
// re-evaluated.
func Earn(a Account, amount decimal.Decimal, orderID string, now time.Time) (Account, LedgerEntry) {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	points := PointsFor(amount, a.Tier)
	a.TotalOrders++
	a.TotalSpent = a.TotalSpent.Add(amount)
	a.Points += points
	a.UpdatedAt = now
	a = Promote(a)
	entry := LedgerEntry{
		ID:          uuid.NewString(),
		Phone:       a.Phone,
		Type:        EntryEarned,
		Points:      points,
		Description: "order " + orderID,
		OrderID:     orderID,
		CreatedAt:   now,
	}
	return a, entry
}

// Standing is an account together with its derived progress figures.
type Standing struct {
	Account
	Progress float64    `json:"progress"`
	NextTier *Threshold `json:"next_tier,omitempty"`
	EarnRate int        `json:"earn_rate"`
}

// Describe computes the derived figures shown next to an account.
func Describe(a Account) Standing {
	s := Standing{
		Account:  a,
		Progress: ProgressToNextLevel(a),
		EarnRate: EarnRate(a.Tier),
	}
	if next, ok := a.Tier.Next(); ok {
		s.NextTier = &next
	}
	return s
}
