package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the back-office lifecycle state of a placed order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusDelivering, StatusDelivered, StatusCancelled},
	StatusDelivering: {StatusDelivered, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDelivering, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a checked-out cart handed off to the store.
type Order struct {
	ID            string          `json:"id"`
	CustomerName  string          `json:"customer_name"`
	Phone         string          `json:"phone"`
	City          string          `json:"city,omitempty"`
	Address       string          `json:"address,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Lines         []CartLine      `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Status        Status          `json:"status"`
	PointsAwarded bool            `json:"points_awarded"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Total returns the order's stored totals as an OrderTotal.
func (o Order) Total() OrderTotal {
	return OrderTotal{Subtotal: o.Subtotal, DeliveryFee: o.DeliveryFee, GrandTotal: o.GrandTotal}
}
