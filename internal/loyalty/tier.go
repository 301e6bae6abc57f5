// Package loyalty implements the points and tier rules of the storefront
// loyalty program. The engine is pure: persisting accounts and ledger
// entries is left to the caller.
package loyalty

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is a named loyalty rank.
type Tier string

const (
	Bronze   Tier = "bronze"
	Silver   Tier = "silver"
	Gold     Tier = "gold"
	Platinum Tier = "platinum"
)

// Threshold is the order count or cumulative spend that unlocks a tier.
type Threshold struct {
	Tier   Tier            `json:"tier"`
	Orders int             `json:"orders"`
	Spend  decimal.Decimal `json:"spend"`
}

// Thresholds lists every tier in ascending order.
var Thresholds = []Threshold{
	{Tier: Bronze, Orders: 0, Spend: decimal.Zero},
	{Tier: Silver, Orders: 10, Spend: decimal.NewFromInt(500)},
	{Tier: Gold, Orders: 25, Spend: decimal.NewFromInt(1500)},
	{Tier: Platinum, Orders: 50, Spend: decimal.NewFromInt(3000)},
}

// progressDivisor converts spend into the same units as order count.
var progressDivisor = decimal.NewFromInt(10)

// Rank returns the position of t in Thresholds, or -1 for an unknown tier.
func (t Tier) Rank() int {
	for i, th := range Thresholds {
		if th.Tier == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the four tiers.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// ParseTier validates a stored tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Next returns the tier above t and false when t is already the top tier.
func (t Tier) Next() (Threshold, bool) {
	r := t.Rank()
	if r < 0 {
		return Thresholds[1], true
	}
	if r+1 >= len(Thresholds) {
		return Threshold{}, false
	}
	return Thresholds[r+1], true
}

// TierFor returns the highest tier whose order count OR spend threshold
// has been reached.
func TierFor(totalOrders int, totalSpent decimal.Decimal) Tier {
	tier := Bronze
	for _, th := range Thresholds {
		if totalOrders >= th.Orders || totalSpent.GreaterThanOrEqual(th.Spend) {
			tier = th.Tier
		}
	}
	return tier
}

// Max returns the higher of two tiers.
func Max(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// EarnRate is the number of points granted per 10 currency units spent.
func EarnRate(t Tier) int {
	if t.Rank() >= Silver.Rank() {
		return 2
	}
	return 1
}

// PointsFor returns the points an order of amount earns at tier t.
func PointsFor(amount decimal.Decimal, t Tier) int {
	if !amount.IsPositive() {
		return 0
	}
	units := amount.Div(progressDivisor).Floor().IntPart()
	return int(units) * EarnRate(t)
}

func progressUnits(orders int, spend decimal.Decimal) decimal.Decimal {
	o := decimal.NewFromInt(int64(orders))
	s := spend.Div(progressDivisor)
	return decimal.Min(o, s)
}
