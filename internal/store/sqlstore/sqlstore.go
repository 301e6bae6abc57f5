// Package sqlstore is the MySQL implementation of the storefront's
// catalog, order, loyalty and notification stores.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dukkan-app/dukkan/internal/store"
)

//go:embed schema.sql
var schema string

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// Store persists storefront records through database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Backend = (*Store)(nil)

// Open connects to MySQL. The DSN is forced to parse DATETIME columns
// into time.Time and to accept the multi-statement schema.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["charset"] = "utf8mb4"

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// conn is the part of *sql.DB and *sql.Tx the write paths share.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Seed copies reference data (categories, products, delivery fees and
// rewards) from src when the products table is empty.
func (s *Store) Seed(ctx context.Context, src *store.MemoryStore) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return false, fmt.Errorf("counting products: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range src.Categories.List() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO categories (id, name, name_en, position) VALUES (?, ?, ?, ?)",
			c.ID, c.Name, c.NameEn, c.Position); err != nil {
			return false, fmt.Errorf("seeding category %s: %w", c.ID, err)
		}
	}
	for _, p := range src.Products.List() {
		if _, err := tx.ExecContext(ctx, upsertProductSQL, productArgs(p)...); err != nil {
			return false, fmt.Errorf("seeding product %s: %w", p.ID, err)
		}
	}
	for _, f := range src.DeliveryFees.List() {
		if _, err := tx.ExecContext(ctx, upsertFeeSQL, store.CityKey(f.City), f.City, f.CityEn, f.Fee, f.Active); err != nil {
			return false, fmt.Errorf("seeding delivery fee %s: %w", f.City, err)
		}
	}
	for _, r := range src.Rewards.List() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rewards (id, points_cost, description, description_en, kind, value) VALUES (?, ?, ?, ?, ?, ?)",
			r.ID, r.PointsCost, r.Description, r.DescriptionEn, string(r.Kind), r.Value); err != nil {
			return false, fmt.Errorf("seeding reward %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// notFound maps sql.ErrNoRows onto store.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("loading %s %s: %w", what, id, err)
}

// conflict maps a duplicate-key error onto store.ErrConflict.
func conflict(err error, what, id string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrConflict)
	}
	return fmt.Errorf("inserting %s %s: %w", what, id, err)
}

// page appends LIMIT/OFFSET. MySQL has no bare OFFSET, so an offset
// without a limit uses the largest row count.
func page(b *strings.Builder, args []any, offset, limit int) []any {
	switch {
	case limit > 0:
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, max(offset, 0))
	case offset > 0:
		b.WriteString(" LIMIT 18446744073709551615 OFFSET ?")
		args = append(args, offset)
	}
	return args
}
