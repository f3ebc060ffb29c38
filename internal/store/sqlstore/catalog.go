package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	args := []any{}
	if !includeInactive {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY category, name, id`

	var rows []productRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return productsFromRows(rows), nil
}

func (s *Store) SearchProducts(ctx context.Context, prefix string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []productRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE active = ? AND lower(name) LIKE ? ESCAPE '\'
		ORDER BY lower(name), id
		LIMIT ?
	`), true, likePrefix(prefix), limit)
	if err != nil {
		return nil, errors.Wrap(err, "search products")
	}
	return productsFromRows(rows), nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, s.db, &row, s.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt

	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO products (name, category, price_cents, cost_cents, stock, sales_count, active, last_restocked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		RETURNING id
	`), product.Name, product.Category, product.PriceCents, product.CostCents, product.Stock,
		product.Active, nullTime(product.LastRestockedAt), product.CreatedAt.UTC(), product.UpdatedAt.UTC()).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET name = ?, category = ?, price_cents = ?, cost_cents = ?, active = ?, dead_stock = ?, updated_at = ?
		WHERE id = ?
	`), product.Name, product.Category, product.PriceCents, product.CostCents, product.Active, product.DeadStock,
		time.Now().UTC(), product.ID)
	if err != nil {
		return nil, errors.Wrap(err, "update product")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) RestockProduct(ctx context.Context, id int64, qty int, at time.Time) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET stock = stock + ?, last_restocked_at = ?, updated_at = ?
		WHERE id = ?
	`), qty, at.UTC(), at.UTC(), id)
	if err != nil {
		return nil, errors.Wrap(err, "restock product")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, s.db, &names, `SELECT name FROM categories ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	categories := make([]domain.Category, 0, len(names))
	for _, name := range names {
		categories = append(categories, domain.Category{Name: name})
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO categories (name) VALUES (?)`), name)
	if isUniqueViolation(err) {
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, errors.Wrap(err, "create category")
	}
	return &domain.Category{Name: name}, nil
}

func productsFromRows(rows []productRow) []domain.Product {
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products
}
