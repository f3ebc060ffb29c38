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

func (s *Store) GetCustomer(ctx context.Context, phone string) (*domain.Customer, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, s.db, &row, s.db.Rebind(`SELECT `+customerColumns+` FROM customers WHERE phone = ?`), phone)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}
	customer := row.toDomain()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []customerRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(`
		SELECT `+customerColumns+`
		FROM customers
		ORDER BY total_spend_cents DESC, phone
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list customers")
	}
	customers := make([]domain.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, row.toDomain())
	}
	return customers, nil
}

// SaveCustomerProfile upserts name and email only. Aggregates are left to the
// sale commit and cancel path.
func (s *Store) SaveCustomerProfile(ctx context.Context, phone, name, email string, at time.Time) (*domain.Customer, bool, error) {
	created := false
	err := s.withTx(ctx, func(t *txStore) error {
		_, isNew, err := t.UpsertCustomer(ctx, phone, at)
		if err != nil {
			return err
		}
		created = isNew
		_, err = t.tx.ExecContext(ctx, t.tx.Rebind(`
			UPDATE customers SET name = ?, email = ?, updated_at = ? WHERE phone = ?
		`), name, email, at.UTC(), phone)
		return errors.Wrap(err, "save customer profile")
	})
	if err != nil {
		return nil, false, err
	}
	customer, err := s.GetCustomer(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	return customer, created, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, s.db, entry)
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(`
		SELECT id, created_at, actor, actor_role, action, entity_type, entity_id, detail
		FROM audit_logs
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list audit logs")
	}
	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.AuditLog{
			ID:         row.ID,
			Actor:      row.Actor,
			ActorRole:  row.ActorRole,
			Action:     row.Action,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Detail:     row.Detail,
			CreatedAt:  row.CreatedAt.UTC(),
		})
	}
	return logs, nil
}

func insertAuditLog(ctx context.Context, q sqlx.ExtContext, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO audit_logs (created_at, actor, actor_role, action, entity_type, entity_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), entry.CreatedAt.UTC(), entry.Actor, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail)
	return errors.Wrap(err, "insert audit log")
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var row userRow
	err := sqlx.GetContext(ctx, s.db, &row, s.db.Rebind(`
		SELECT username, full_name, password_hash, role, active, created_at
		FROM users
		WHERE username = ?
	`), normalizeUsername(username))
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	user := row.toDomain()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = normalizeUsername(user.Username)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (username, full_name, password_hash, role, active, created_at)
		VALUES (:username, :full_name, :password_hash, :role, :active, :created_at)
	`, userRow{
		Username:     user.Username,
		FullName:     user.FullName,
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
		Active:       user.Active,
		CreatedAt:    user.CreatedAt.UTC(),
	})
	if isUniqueViolation(err) {
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT username, full_name, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET password_hash = ? WHERE username = ?`),
		passwordHash, normalizeUsername(username))
	if err != nil {
		return errors.Wrap(err, "update user password")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetUserActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET active = ? WHERE username = ?`),
		active, normalizeUsername(username))
	if err != nil {
		return errors.Wrap(err, "set user active")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountActiveAdmins(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, s.db, &count, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE role = ? AND active = ?`),
		domain.RoleAdmin, true)
	if err != nil {
		return 0, errors.Wrap(err, "count admins")
	}
	return count, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]domain.Setting, error) {
	settings := make([]domain.Setting, 0, 8)
	rows, err := s.db.QueryxContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, errors.Wrap(err, "list settings")
	}
	defer rows.Close()
	for rows.Next() {
		var setting domain.Setting
		if err := rows.Scan(&setting.Key, &setting.Value); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		settings = append(settings, setting)
	}
	return settings, errors.Wrap(rows.Err(), "list settings")
}

func (s *Store) PutSettings(ctx context.Context, values map[string]string) error {
	return s.withTx(ctx, func(t *txStore) error {
		for key, value := range values {
			_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
				INSERT INTO settings (key, value) VALUES (?, ?)
				ON CONFLICT (key) DO UPDATE SET value = excluded.value
			`), key, value)
			if err != nil {
				return errors.Wrapf(err, "put setting %s", key)
			}
		}
		return nil
	})
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
