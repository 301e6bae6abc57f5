// Package store defines the data-store boundary of the storefront and an
// in-memory implementation of it. The pure order and loyalty logic never
// touches a store directly; handlers load records, call the logic, and
// write the results back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukkan-app/dukkan/internal/loyalty"
	"github.com/dukkan-app/dukkan/internal/order"
)

var (
	// ErrNotFound is returned when a keyed lookup finds no record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create collides with an existing key.
	ErrConflict = errors.New("already exists")
)

// MoneyScale is the number of fractional digits a stored amount may carry.
// Order totals are sums of prices times whole quantities plus a fee, so
// they never need more digits than their inputs.
const MoneyScale = 10

// ExactMoney reports whether d fits in MoneyScale fractional digits.
func ExactMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// Category groups products on the catalog screen.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	NameEn   string `json:"name_en,omitempty"`
	Position int    `json:"position"`
}

// Product is a catalog item.
type Product struct {
	ID            string          `json:"id"`
	CategoryID    string          `json:"category_id"`
	Name          string          `json:"name"`
	NameEn        string          `json:"name_en,omitempty"`
	Description   string          `json:"description,omitempty"`
	DescriptionEn string          `json:"description_en,omitempty"`
	Price         decimal.Decimal `json:"price"`
	ImageURL      string          `json:"image_url,omitempty"`
	Available     bool            `json:"available"`
	Featured      bool            `json:"featured"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CartLine converts the product into a cart line of qty units.
func (p Product) CartLine(qty int) order.CartLine {
	return order.CartLine{ID: p.ID, Name: p.Name, NameEn: p.NameEn, UnitPrice: p.Price, Quantity: qty}
}

// DeliveryFee is the flat delivery charge for one city.
type DeliveryFee struct {
	City   string          `json:"city"`
	CityEn string          `json:"city_en,omitempty"`
	Fee    decimal.Decimal `json:"fee"`
	Active bool            `json:"active"`
}

// NotificationStatus tracks a push notification through sending.
type NotificationStatus string

const (
	NotificationDraft  NotificationStatus = "draft"
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// Notification is a broadcast message composed in the back-office.
type Notification struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	TitleEn   string             `json:"title_en,omitempty"`
	Body      string             `json:"body"`
	BodyEn    string             `json:"body_en,omitempty"`
	Status    NotificationStatus `json:"status"`
	Sent      int                `json:"sent"`
	Failed    int                `json:"failed"`
	CreatedAt time.Time          `json:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
}

// Cart is a transient shopping session.
type Cart struct {
	ID        string           `json:"id"`
	Lines     []order.CartLine `json:"lines"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Product sort orders.
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortName      = "name"
)

// ProductQuery is the catalog filter and search form.
type ProductQuery struct {
	CategoryID    string
	Search        string
	MinPrice      *decimal.Decimal
	MaxPrice      *decimal.Decimal
	AvailableOnly bool
	FeaturedOnly  bool
	Sort          string
	Offset        int
	Limit         int
}

// OrderQuery filters back-office order listings. Orders come newest first.
type OrderQuery struct {
	Status order.Status
	Phone  string
	Since  time.Time
	Offset int
	Limit  int
}

// CatalogStore reads and writes catalog reference data.
type CatalogStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context, q ProductQuery) ([]Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	SaveProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ListDeliveryFees(ctx context.Context, activeOnly bool) ([]DeliveryFee, error)
	DeliveryFee(ctx context.Context, city string) (DeliveryFee, error)
	SaveDeliveryFee(ctx context.Context, fee DeliveryFee) error
}

// OrderStore persists placed orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	ListOrders(ctx context.Context, q OrderQuery) ([]order.Order, error)
	UpdateOrder(ctx context.Context, o order.Order) error
}

// LoyaltyStore persists loyalty accounts, the point ledger and the reward catalog.
type LoyaltyStore interface {
	GetAccount(ctx context.Context, phone string) (loyalty.Account, error)
	SaveAccount(ctx context.Context, a loyalty.Account) error
	AppendLedger(ctx context.Context, e loyalty.LedgerEntry) error
	// ApplyLoyalty writes an account together with the ledger entry that
	// changed it and, when o is non-nil, the order the entry credits.
	// Either every record is written or none is.
	ApplyLoyalty(ctx context.Context, a loyalty.Account, e loyalty.LedgerEntry, o *order.Order) error
	Ledger(ctx context.Context, phone string) ([]loyalty.LedgerEntry, error)
	ListRewards(ctx context.Context) ([]loyalty.Reward, error)
	GetReward(ctx context.Context, id string) (loyalty.Reward, error)
}

// NotificationStore persists back-office push notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	GetNotification(ctx context.Context, id string) (Notification, error)
	ListNotifications(ctx context.Context) ([]Notification, error)
	UpdateNotification(ctx context.Context, n Notification) error
}

// CartStore holds transient carts.
type CartStore interface {
	CreateCart(ctx context.Context) (Cart, error)
	GetCart(ctx context.Context, id string) (Cart, error)
	SaveCart(ctx context.Context, c Cart) error
	DeleteCart(ctx context.Context, id string) error
}

// Backend is everything the HTTP layer needs from persistence.
type Backend interface {
	CatalogStore
	OrderStore
	LoyaltyStore
	NotificationStore
}
