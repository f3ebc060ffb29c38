package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

type txStore struct {
	tx      *sqlx.Tx
	dialect dialect
}

func (t *txStore) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	found := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?) ORDER BY id`+t.dialect.lockSuffix, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build product lock query")
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, t.tx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	for _, row := range rows {
		found[row.ID] = row.toDomain()
	}
	return found, nil
}

func (t *txStore) AdjustProduct(ctx context.Context, id int64, stockDelta, salesDelta int) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE products
		SET stock = stock + ?,
			sales_count = CASE WHEN sales_count + ? < 0 THEN 0 ELSE sales_count + ? END,
			updated_at = ?
		WHERE id = ?
	`), stockDelta, salesDelta, salesDelta, time.Now().UTC(), id)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrInsufficientStock
		}
		return errors.Wrapf(err, "adjust product %d", id)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txStore) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return getSale(ctx, t.tx, `SELECT `+saleColumns+` FROM sales WHERE idempotency_key = ?`, key)
}

func (t *txStore) InsertSale(ctx context.Context, sale domain.Sale) (int64, error) {
	items, err := domain.EncodeItems(sale.Items)
	if err != nil {
		return 0, errors.Wrap(err, "encode sale items")
	}

	var id int64
	err = t.tx.QueryRowxContext(ctx, t.tx.Rebind(`
		INSERT INTO sales (
			created_at, items_json, subtotal_cents, tax_cents, total_cents, payment_mode, operator,
			terminal_id, customer_phone, status, integrity_hash, idempotency_key
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), sale.CreatedAt.UTC(), items, sale.SubtotalCents, sale.TaxCents, sale.TotalCents, string(sale.PaymentMode),
		sale.Operator, sale.TerminalID, nullIfEmpty(sale.CustomerPhone), sale.Status, sale.IntegrityHash,
		nullIfEmpty(sale.IdempotencyKey)).Scan(&id)
	if isUniqueViolation(err) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert sale")
	}
	return id, nil
}

func (t *txStore) LockSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return getSale(ctx, t.tx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`+t.dialect.lockSuffix, id)
}

func (t *txStore) MarkSaleCancelled(ctx context.Context, id int64, c domain.Cancellation) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE sales
		SET status = ?, cancellation_reason = ?, cancelled_by = ?, cancelled_at = ?
		WHERE id = ? AND status = ?
	`), domain.SaleStatusCancelled, c.Reason, c.CancelledBy, c.CancelledAt.UTC(), id, domain.SaleStatusCompleted)
	if err != nil {
		return errors.Wrapf(err, "cancel sale %d", id)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func (t *txStore) UpsertCustomer(ctx context.Context, phone string, at time.Time) (*domain.Customer, bool, error) {
	customer, err := t.LockCustomer(ctx, phone)
	if err == nil {
		return customer, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO customers (phone, name, email, visits, total_spend_cents, loyalty_points, segment, created_at, updated_at)
		VALUES (?, '', '', 0, 0, 0, ?, ?, ?)
	`), phone, domain.SegmentNew, at.UTC(), at.UTC())
	if err != nil {
		return nil, false, errors.Wrap(err, "insert customer")
	}
	customer, err = t.LockCustomer(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	return customer, true, nil
}

func (t *txStore) LockCustomer(ctx context.Context, phone string) (*domain.Customer, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, t.tx, &row, t.tx.Rebind(`SELECT `+customerColumns+` FROM customers WHERE phone = ?`+t.dialect.lockSuffix), phone)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock customer")
	}
	customer := row.toDomain()
	return &customer, nil
}

func (t *txStore) SaveCustomerAggregates(ctx context.Context, customer domain.Customer) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE customers
		SET visits = ?, total_spend_cents = ?, loyalty_points = ?, segment = ?, updated_at = ?
		WHERE phone = ?
	`), customer.Visits, customer.TotalSpendCents, customer.LoyaltyPoints, customer.Segment, customer.UpdatedAt.UTC(), customer.Phone)
	if err != nil {
		return errors.Wrap(err, "save customer aggregates")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txStore) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, t.tx, entry)
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return getSale(ctx, s.db, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)
	if filter.ID > 0 {
		clauses = append(clauses, "id = ?")
		args = append(args, filter.ID)
	}
	if filter.Operator != "" {
		clauses = append(clauses, "operator = ?")
		args = append(args, filter.Operator)
	}
	if filter.OperatorLike != "" {
		clauses = append(clauses, "lower(operator) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.OperatorLike)+"%")
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []saleRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	return salesFromRows(rows)
}

func getSale(ctx context.Context, q sqlx.ExtContext, query string, arg any) (*domain.Sale, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(query), arg)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get sale")
	}
	sale, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &sale, nil
}
