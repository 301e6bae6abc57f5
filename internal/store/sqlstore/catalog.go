package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dukkan-app/dukkan/internal/store"
)

const productColumns = "id, category_id, name, name_en, description, description_en, price, image_url, available, featured, created_at, updated_at"

const upsertProductSQL = `INSERT INTO products
	(id, category_id, name, name_en, description, description_en, search_text, price, image_url, available, featured, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
	category_id = VALUES(category_id), name = VALUES(name), name_en = VALUES(name_en),
	description = VALUES(description), description_en = VALUES(description_en),
	search_text = VALUES(search_text), price = VALUES(price), image_url = VALUES(image_url),
	available = VALUES(available), featured = VALUES(featured), updated_at = VALUES(updated_at)`

const upsertFeeSQL = `INSERT INTO delivery_fees (city_key, city, city_en, fee, active)
	VALUES (?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE city = VALUES(city), city_en = VALUES(city_en), fee = VALUES(fee), active = VALUES(active)`

func productArgs(p store.Product) []any {
	search := store.NormalizeSearch(strings.Join([]string{p.Name, p.NameEn, p.Description, p.DescriptionEn}, " "))
	return []any{
		p.ID, p.CategoryID, p.Name, p.NameEn, p.Description, p.DescriptionEn, search,
		p.Price, p.ImageURL, p.Available, p.Featured, p.CreatedAt, p.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (store.Product, error) {
	var p store.Product
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.NameEn, &p.Description, &p.DescriptionEn,
		&p.Price, &p.ImageURL, &p.Available, &p.Featured, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListCategories(ctx context.Context) ([]store.Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, name_en, position FROM categories ORDER BY position, id")
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	cats := []store.Category{}
	for rows.Next() {
		var c store.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.NameEn, &c.Position); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// productQuery renders q as a SELECT over products.
func productQuery(q store.ProductQuery) (string, []any) {
	var (
		b     strings.Builder
		where []string
		args  []any
	)
	b.WriteString("SELECT " + productColumns + " FROM products")

	if q.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, q.CategoryID)
	}
	if q.AvailableOnly {
		where = append(where, "available = TRUE")
	}
	if q.FeaturedOnly {
		where = append(where, "featured = TRUE")
	}
	if q.MinPrice != nil {
		where = append(where, "price >= ?")
		args = append(args, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		where = append(where, "price <= ?")
		args = append(args, *q.MaxPrice)
	}
	for _, term := range strings.Fields(store.NormalizeSearch(q.Search)) {
		where = append(where, "search_text LIKE ?")
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	switch q.Sort {
	case store.SortPriceAsc:
		b.WriteString(" ORDER BY price ASC, created_at ASC")
	case store.SortPriceDesc:
		b.WriteString(" ORDER BY price DESC, created_at ASC")
	case store.SortName:
		b.WriteString(" ORDER BY name ASC")
	case store.SortNewest:
		b.WriteString(" ORDER BY created_at DESC")
	default:
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	}

	args = page(&b, args, q.Offset, q.Limit)
	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func (s *Store) ListProducts(ctx context.Context, q store.ProductQuery) ([]store.Product, error) {
	query, args := productQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	products := []store.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (store.Product, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if err != nil {
		return store.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (s *Store) SaveProduct(ctx context.Context, p store.Product) (store.Product, error) {
	now := s.now()
	if p.ID == "" {
		p.ID = "prd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if _, err := s.db.ExecContext(ctx, upsertProductSQL, productArgs(p)...); err != nil {
		return store.Product{}, fmt.Errorf("saving product %s: %w", p.ID, err)
	}
	return s.GetProduct(ctx, p.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting product %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListDeliveryFees(ctx context.Context, activeOnly bool) ([]store.DeliveryFee, error) {
	query := "SELECT city, city_en, fee, active FROM delivery_fees"
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY city")
	if err != nil {
		return nil, fmt.Errorf("listing delivery fees: %w", err)
	}
	defer rows.Close()

	fees := []store.DeliveryFee{}
	for rows.Next() {
		var f store.DeliveryFee
		if err := rows.Scan(&f.City, &f.CityEn, &f.Fee, &f.Active); err != nil {
			return nil, err
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

func (s *Store) DeliveryFee(ctx context.Context, city string) (store.DeliveryFee, error) {
	var f store.DeliveryFee
	err := s.db.QueryRowContext(ctx,
		"SELECT city, city_en, fee, active FROM delivery_fees WHERE city_key = ?", store.CityKey(city),
	).Scan(&f.City, &f.CityEn, &f.Fee, &f.Active)
	if err != nil {
		return store.DeliveryFee{}, notFound(err, "delivery fee for", city)
	}
	return f, nil
}

func (s *Store) SaveDeliveryFee(ctx context.Context, fee store.DeliveryFee) error {
	key := store.CityKey(fee.City)
	if key == "" {
		return fmt.Errorf("delivery fee: city is required")
	}
	_, err := s.db.ExecContext(ctx, upsertFeeSQL, key, strings.TrimSpace(fee.City), fee.CityEn, fee.Fee, fee.Active)
	if err != nil {
		return fmt.Errorf("saving delivery fee %s: %w", fee.City, err)
	}
	return nil
}
