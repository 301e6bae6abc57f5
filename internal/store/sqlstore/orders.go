package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukkan-app/dukkan/internal/order"
	"github.com/dukkan-app/dukkan/internal/store"
)

const orderColumns = "id, customer_name, phone, city, address, notes, items, subtotal, delivery_fee, grand_total, status, points_awarded, created_at, updated_at"

func scanOrder(row scanner) (order.Order, error) {
	var (
		o     order.Order
		items []byte
	)
	if err := row.Scan(&o.ID, &o.CustomerName, &o.Phone, &o.City, &o.Address, &o.Notes, &items,
		&o.Subtotal, &o.DeliveryFee, &o.GrandTotal, &o.Status, &o.PointsAwarded, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Lines); err != nil {
		return order.Order{}, fmt.Errorf("decoding lines of order %s: %w", o.ID, err)
	}
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	now := s.now()
	if o.ID == "" {
		o.ID = store.NewOrderID()
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	if o.Lines == nil {
		o.Lines = []order.CartLine{}
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	items, err := json.Marshal(o.Lines)
	if err != nil {
		return order.Order{}, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		o.ID, o.CustomerName, o.Phone, o.City, o.Address, o.Notes, string(items),
		o.Subtotal, o.DeliveryFee, o.GrandTotal, string(o.Status), o.PointsAwarded, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return order.Order{}, conflict(err, "order", o.ID)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id))
	if err != nil {
		return order.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func orderQuery(q store.OrderQuery) (string, []any) {
	var (
		b     strings.Builder
		where []string
		args  []any
	)
	b.WriteString("SELECT " + orderColumns + " FROM orders")
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Phone != "" {
		where = append(where, "phone = ?")
		args = append(args, q.Phone)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	args = page(&b, args, q.Offset, q.Limit)
	return b.String(), args
}

func (s *Store) ListOrders(ctx context.Context, q store.OrderQuery) ([]order.Order, error) {
	query, args := orderQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	orders := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrder rewrites the mutable columns. Lines and totals are fixed at checkout.
func (s *Store) UpdateOrder(ctx context.Context, o order.Order) error {
	return s.updateOrder(ctx, s.db, o)
}

func (s *Store) updateOrder(ctx context.Context, c conn, o order.Order) error {
	res, err := c.ExecContext(ctx,
		"UPDATE orders SET customer_name = ?, phone = ?, city = ?, address = ?, notes = ?, status = ?, points_awarded = ?, updated_at = ? WHERE id = ?",
		o.CustomerName, o.Phone, o.City, o.Address, o.Notes, string(o.Status), o.PointsAwarded, s.now(), o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// RowsAffected is 0 for an unchanged row too; confirm it exists.
		var one int
		if err := c.QueryRowContext(ctx, "SELECT 1 FROM orders WHERE id = ?", o.ID).Scan(&one); err != nil {
			return notFound(err, "order", o.ID)
		}
	}
	return nil
}
