package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukkan-app/dukkan/internal/loyalty"
	"github.com/dukkan-app/dukkan/internal/order"
)

func (s *Store) GetAccount(ctx context.Context, phone string) (loyalty.Account, error) {
	var a loyalty.Account
	err := s.db.QueryRowContext(ctx,
		"SELECT phone, points, tier, total_orders, total_spent, created_at, updated_at FROM loyalty_accounts WHERE phone = ?", phone,
	).Scan(&a.Phone, &a.Points, &a.Tier, &a.TotalOrders, &a.TotalSpent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return loyalty.Account{}, notFound(err, "loyalty account", phone)
	}
	return a, nil
}

func (s *Store) SaveAccount(ctx context.Context, a loyalty.Account) error {
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, c conn, a loyalty.Account) error {
	if a.Phone == "" {
		return fmt.Errorf("loyalty account: phone is required")
	}
	_, err := c.ExecContext(ctx, `INSERT INTO loyalty_accounts
		(phone, points, tier, total_orders, total_spent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE points = VALUES(points), tier = VALUES(tier),
		total_orders = VALUES(total_orders), total_spent = VALUES(total_spent), updated_at = VALUES(updated_at)`,
		a.Phone, a.Points, string(a.Tier), a.TotalOrders, a.TotalSpent, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving loyalty account %s: %w", a.Phone, err)
	}
	return nil
}

func (s *Store) AppendLedger(ctx context.Context, e loyalty.LedgerEntry) error {
	return s.appendLedger(ctx, s.db, e)
}

func (s *Store) appendLedger(ctx context.Context, c conn, e loyalty.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := c.ExecContext(ctx,
		"INSERT INTO loyalty_ledger (id, phone, type, points, description, order_id, reward_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Phone, string(e.Type), e.Points, e.Description, e.OrderID, e.RewardID, e.CreatedAt)
	if err != nil {
		return conflict(err, "ledger entry", e.ID)
	}
	return nil
}

// ApplyLoyalty writes the account, the entry and the credited order in one transaction.
func (s *Store) ApplyLoyalty(ctx context.Context, a loyalty.Account, e loyalty.LedgerEntry, o *order.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning loyalty update for %s: %w", a.Phone, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveAccount(ctx, tx, a); err != nil {
		return err
	}
	if err := s.appendLedger(ctx, tx, e); err != nil {
		return err
	}
	if o != nil {
		if err := s.updateOrder(ctx, tx, *o); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing loyalty update for %s: %w", a.Phone, err)
	}
	return nil
}

func (s *Store) Ledger(ctx context.Context, phone string) ([]loyalty.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, phone, type, points, description, order_id, reward_id, created_at FROM loyalty_ledger WHERE phone = ? ORDER BY created_at DESC, id",
		phone)
	if err != nil {
		return nil, fmt.Errorf("listing ledger for %s: %w", phone, err)
	}
	defer rows.Close()

	entries := []loyalty.LedgerEntry{}
	for rows.Next() {
		var e loyalty.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Phone, &e.Type, &e.Points, &e.Description, &e.OrderID, &e.RewardID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const rewardColumns = "id, points_cost, description, description_en, kind, value"

func (s *Store) ListRewards(ctx context.Context) ([]loyalty.Reward, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+rewardColumns+" FROM rewards ORDER BY points_cost, id")
	if err != nil {
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	defer rows.Close()

	rewards := []loyalty.Reward{}
	for rows.Next() {
		var r loyalty.Reward
		if err := rows.Scan(&r.ID, &r.PointsCost, &r.Description, &r.DescriptionEn, &r.Kind, &r.Value); err != nil {
			return nil, err
		}
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

func (s *Store) GetReward(ctx context.Context, id string) (loyalty.Reward, error) {
	var r loyalty.Reward
	err := s.db.QueryRowContext(ctx, "SELECT "+rewardColumns+" FROM rewards WHERE id = ?", id).
		Scan(&r.ID, &r.PointsCost, &r.Description, &r.DescriptionEn, &r.Kind, &r.Value)
	if err != nil {
		return loyalty.Reward{}, notFound(err, "reward", id)
	}
	return r, nil
}
