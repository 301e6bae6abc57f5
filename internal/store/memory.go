package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dukkan-app/dukkan/internal/loyalty"
	"github.com/dukkan-app/dukkan/internal/order"
)

// MemoryStore holds all storefront state in memory.
type MemoryStore struct {
	Categories    *Table[Category]
	Products      *Table[Product]
	DeliveryFees  *Table[DeliveryFee]
	Orders        *Table[order.Order]
	Accounts      *Table[loyalty.Account]
	Entries       *Table[loyalty.LedgerEntry]
	Rewards       *Table[loyalty.Reward]
	Notifications *Table[Notification]
	Carts         *Table[Cart]
	Clock         *Clock
}

var (
	_ Backend   = (*MemoryStore)(nil)
	_ CartStore = (*MemoryStore)(nil)
)

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		Categories:    NewTable[Category]("cat"),
		Products:      NewTable[Product]("prd"),
		DeliveryFees:  NewTable[DeliveryFee]("city"),
		Orders:        NewTable[order.Order]("ord"),
		Accounts:      NewTable[loyalty.Account]("acct"),
		Entries:       NewTable[loyalty.LedgerEntry]("led"),
		Rewards:       NewTable[loyalty.Reward]("rwd"),
		Notifications: NewTable[Notification]("ntf"),
		Carts:         NewTable[Cart]("cart"),
		Clock:         NewClock(),
	}
}

// NewOrderID returns a short, human-readable order reference.
func NewOrderID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// CityKey normalizes a city name for lookups.
func CityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// --- Catalog ---

func (s *MemoryStore) ListCategories(_ context.Context) ([]Category, error) {
	return s.Categories.Select(Query[Category]{
		Less: func(a, b Category) bool { return a.Position < b.Position },
	}), nil
}

func (s *MemoryStore) ListProducts(_ context.Context, q ProductQuery) ([]Product, error) {
	terms := searchTerms(q.Search)
	return s.Products.Select(Query[Product]{
		Where: func(p Product) bool {
			if q.CategoryID != "" && p.CategoryID != q.CategoryID {
				return false
			}
			if q.AvailableOnly && !p.Available {
				return false
			}
			if q.FeaturedOnly && !p.Featured {
				return false
			}
			if q.MinPrice != nil && p.Price.LessThan(*q.MinPrice) {
				return false
			}
			if q.MaxPrice != nil && p.Price.GreaterThan(*q.MaxPrice) {
				return false
			}
			return matchesAll(terms, p.Name, p.NameEn, p.Description, p.DescriptionEn)
		},
		Less:   productLess(q.Sort),
		Offset: q.Offset,
		Limit:  q.Limit,
	}), nil
}

func productLess(sortBy string) func(a, b Product) bool {
	switch sortBy {
	case SortPriceAsc:
		return func(a, b Product) bool { return a.Price.LessThan(b.Price) }
	case SortPriceDesc:
		return func(a, b Product) bool { return a.Price.GreaterThan(b.Price) }
	case SortName:
		return func(a, b Product) bool { return a.Name < b.Name }
	case SortNewest:
		return func(a, b Product) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (Product, error) {
	p, ok := s.Products.Get(id)
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) SaveProduct(_ context.Context, p Product) (Product, error) {
	now := s.Clock.Now()
	generated := p.ID == ""
	if generated {
		p.ID = s.Products.NextID()
	}
	return s.Products.Update(p.ID, func(cur Product, exists bool) (Product, error) {
		if exists && generated {
			return cur, fmt.Errorf("product %s: %w", p.ID, ErrConflict)
		}
		if exists {
			p.CreatedAt = cur.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		return p, nil
	})
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	if !s.Products.Delete(id) {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) ListDeliveryFees(_ context.Context, activeOnly bool) ([]DeliveryFee, error) {
	return s.DeliveryFees.Select(Query[DeliveryFee]{
		Where: func(f DeliveryFee) bool { return !activeOnly || f.Active },
		Less:  func(a, b DeliveryFee) bool { return a.City < b.City },
	}), nil
}

func (s *MemoryStore) DeliveryFee(_ context.Context, city string) (DeliveryFee, error) {
	f, ok := s.DeliveryFees.Get(CityKey(city))
	if !ok {
		return DeliveryFee{}, fmt.Errorf("delivery fee for %q: %w", city, ErrNotFound)
	}
	return f, nil
}

func (s *MemoryStore) SaveDeliveryFee(_ context.Context, fee DeliveryFee) error {
	key := CityKey(fee.City)
	if key == "" {
		return fmt.Errorf("delivery fee: city is required")
	}
	fee.City = strings.TrimSpace(fee.City)
	s.DeliveryFees.Set(key, fee)
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o order.Order) (order.Order, error) {
	now := s.Clock.Now()
	if o.ID == "" {
		o.ID = NewOrderID()
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	return s.Orders.Update(o.ID, func(_ order.Order, exists bool) (order.Order, error) {
		if exists {
			return order.Order{}, fmt.Errorf("order %s: %w", o.ID, ErrConflict)
		}
		return o, nil
	})
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (order.Order, error) {
	o, ok := s.Orders.Get(id)
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, q OrderQuery) ([]order.Order, error) {
	return s.Orders.Select(Query[order.Order]{
		Where: func(o order.Order) bool {
			if q.Status != "" && o.Status != q.Status {
				return false
			}
			if q.Phone != "" && o.Phone != q.Phone {
				return false
			}
			return q.Since.IsZero() || !o.CreatedAt.Before(q.Since)
		},
		Less:   func(a, b order.Order) bool { return a.CreatedAt.After(b.CreatedAt) },
		Offset: q.Offset,
		Limit:  q.Limit,
	}), nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o order.Order) error {
	_, err := s.Orders.Update(o.ID, func(cur order.Order, exists bool) (order.Order, error) {
		if !exists {
			return cur, fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
		}
		o.CreatedAt = cur.CreatedAt
		o.UpdatedAt = s.Clock.Now()
		return o, nil
	})
	return err
}

// --- Loyalty ---

func (s *MemoryStore) GetAccount(_ context.Context, phone string) (loyalty.Account, error) {
	a, ok := s.Accounts.Get(phone)
	if !ok {
		return loyalty.Account{}, fmt.Errorf("loyalty account %s: %w", phone, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, a loyalty.Account) error {
	if a.Phone == "" {
		return fmt.Errorf("loyalty account: phone is required")
	}
	s.Accounts.Set(a.Phone, a)
	return nil
}

func (s *MemoryStore) AppendLedger(_ context.Context, e loyalty.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.Clock.Now()
	}
	_, err := s.Entries.Update(e.ID, func(_ loyalty.LedgerEntry, exists bool) (loyalty.LedgerEntry, error) {
		if exists {
			return e, fmt.Errorf("ledger entry %s: %w", e.ID, ErrConflict)
		}
		return e, nil
	})
	return err
}

// ApplyLoyalty inserts the entry first since it is the write that can
// conflict, and takes it back out if the order update fails.
func (s *MemoryStore) ApplyLoyalty(ctx context.Context, a loyalty.Account, e loyalty.LedgerEntry, o *order.Order) error {
	if a.Phone == "" {
		return fmt.Errorf("loyalty account: phone is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.AppendLedger(ctx, e); err != nil {
		return err
	}
	if o != nil {
		if err := s.UpdateOrder(ctx, *o); err != nil {
			s.Entries.Delete(e.ID)
			return err
		}
	}
	s.Accounts.Set(a.Phone, a)
	return nil
}

// Ledger returns a customer's entries, newest first.
func (s *MemoryStore) Ledger(_ context.Context, phone string) ([]loyalty.LedgerEntry, error) {
	return s.Entries.Select(Query[loyalty.LedgerEntry]{
		Where: func(e loyalty.LedgerEntry) bool { return e.Phone == phone },
		Less:  func(a, b loyalty.LedgerEntry) bool { return a.CreatedAt.After(b.CreatedAt) },
	}), nil
}

func (s *MemoryStore) ListRewards(_ context.Context) ([]loyalty.Reward, error) {
	return s.Rewards.Select(Query[loyalty.Reward]{
		Less: func(a, b loyalty.Reward) bool { return a.PointsCost < b.PointsCost },
	}), nil
}

func (s *MemoryStore) GetReward(_ context.Context, id string) (loyalty.Reward, error) {
	r, ok := s.Rewards.Get(id)
	if !ok {
		return loyalty.Reward{}, fmt.Errorf("reward %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// --- Notifications ---

func (s *MemoryStore) CreateNotification(_ context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = NotificationDraft
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.Clock.Now()
	}
	s.Notifications.Set(n.ID, n)
	return n, nil
}

func (s *MemoryStore) GetNotification(_ context.Context, id string) (Notification, error) {
	n, ok := s.Notifications.Get(id)
	if !ok {
		return Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context) ([]Notification, error) {
	return s.Notifications.Select(Query[Notification]{
		Less: func(a, b Notification) bool { return a.CreatedAt.After(b.CreatedAt) },
	}), nil
}

func (s *MemoryStore) UpdateNotification(_ context.Context, n Notification) error {
	_, err := s.Notifications.Update(n.ID, func(cur Notification, exists bool) (Notification, error) {
		if !exists {
			return cur, fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
		}
		return n, nil
	})
	return err
}

// --- Carts ---

func (s *MemoryStore) CreateCart(_ context.Context) (Cart, error) {
	now := s.Clock.Now()
	c := Cart{ID: uuid.NewString(), Lines: []order.CartLine{}, CreatedAt: now, UpdatedAt: now}
	s.Carts.Set(c.ID, c)
	return c, nil
}

func (s *MemoryStore) GetCart(_ context.Context, id string) (Cart, error) {
	c, ok := s.Carts.Get(id)
	if !ok {
		return Cart{}, fmt.Errorf("cart %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) SaveCart(_ context.Context, c Cart) error {
	_, err := s.Carts.Update(c.ID, func(cur Cart, exists bool) (Cart, error) {
		if !exists {
			return cur, fmt.Errorf("cart %s: %w", c.ID, ErrNotFound)
		}
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = s.Clock.Now()
		return c, nil
	})
	return err
}

func (s *MemoryStore) DeleteCart(_ context.Context, id string) error {
	if !s.Carts.Delete(id) {
		return fmt.Errorf("cart %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- State management ---

type stateSnapshot struct {
	Categories    map[string]Category            `json:"categories"`
	Products      map[string]Product             `json:"products"`
	DeliveryFees  map[string]DeliveryFee         `json:"delivery_fees"`
	Orders        map[string]order.Order         `json:"orders"`
	Accounts      map[string]loyalty.Account     `json:"accounts"`
	Ledger        map[string]loyalty.LedgerEntry `json:"ledger"`
	Rewards       map[string]loyalty.Reward      `json:"rewards"`
	Notifications map[string]Notification        `json:"notifications"`
}

// Snapshot returns the durable state as a JSON-serializable value. Carts are transient and left out.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{
		Categories:    s.Categories.Snapshot(),
		Products:      s.Products.Snapshot(),
		DeliveryFees:  s.DeliveryFees.Snapshot(),
		Orders:        s.Orders.Snapshot(),
		Accounts:      s.Accounts.Snapshot(),
		Ledger:        s.Entries.Snapshot(),
		Rewards:       s.Rewards.Snapshot(),
		Notifications: s.Notifications.Snapshot(),
	}
}

// LoadState loads state from JSON. Tables missing from data are left as they are.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}
	if snap.Categories != nil {
		s.Categories.LoadSnapshot(snap.Categories)
	}
	if snap.Products != nil {
		s.Products.LoadSnapshot(snap.Products)
	}
	if snap.DeliveryFees != nil {
		fees := make(map[string]DeliveryFee, len(snap.DeliveryFees))
		for _, f := range snap.DeliveryFees {
			fees[CityKey(f.City)] = f
		}
		s.DeliveryFees.LoadSnapshot(fees)
	}
	if snap.Orders != nil {
		s.Orders.LoadSnapshot(snap.Orders)
	}
	if snap.Accounts != nil {
		s.Accounts.LoadSnapshot(snap.Accounts)
	}
	if snap.Ledger != nil {
		s.Entries.LoadSnapshot(snap.Ledger)
	}
	if snap.Rewards != nil {
		s.Rewards.LoadSnapshot(snap.Rewards)
	}
	if snap.Notifications != nil {
		s.Notifications.LoadSnapshot(snap.Notifications)
	}
	return nil
}

// Reset clears all state and reloads seed fixtures.
func (s *MemoryStore) Reset() {
	s.Categories.Reset()
	s.Products.Reset()
	s.DeliveryFees.Reset()
	s.Orders.Reset()
	s.Accounts.Reset()
	s.Entries.Reset()
	s.Rewards.Reset()
	s.Notifications.Reset()
	s.Carts.Reset()
	s.SeedDefaults()
}
