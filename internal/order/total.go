// Package order holds the pure cart and order computations: totals, the
// cart reducer, the order lifecycle, the handoff summary text and sales
// stats. Nothing in this package performs I/O.
package order

import "github.com/shopspring/decimal"

// CartLine is one product entry in an active shopping session.
type CartLine struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	NameEn    string          `json:"name_en,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// OrderTotal is derived from the cart on every mutation and never stored on its own.
type OrderTotal struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

// LineTotal returns unit_price × quantity. Lines with a quantity below one
// or a negative price contribute zero.
func LineTotal(line CartLine) decimal.Decimal {
	if line.Quantity < 1 || line.UnitPrice.IsNegative() {
		return decimal.Zero
	}
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// ComputeTotal sums the cart and adds the delivery fee. It never fails:
// malformed lines are treated as zero and a negative fee as no fee, so
// grand_total >= subtotal >= 0 always holds.
func ComputeTotal(lines []CartLine, deliveryFee decimal.Decimal) OrderTotal {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(LineTotal(line))
	}
	if deliveryFee.IsNegative() {
		deliveryFee = decimal.Zero
	}
	return OrderTotal{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		GrandTotal:  subtotal.Add(deliveryFee),
	}
}

// ItemCount returns the number of units across well-formed lines.
func ItemCount(lines []CartLine) int {
	n := 0
	for _, line := range lines {
		if line.Quantity > 0 {
			n += line.Quantity
		}
	}
	return n
}
