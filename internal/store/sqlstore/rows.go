package sqlstore

import (
	"database/sql"
	"time"

	"possale/backend/internal/domain"
)

const productColumns = `id, name, category, price_cents, cost_cents, stock, sales_count, active, dead_stock, last_restocked_at, created_at, updated_at`

type productRow struct {
	ID              int64        `db:"id"`
	Name            string       `db:"name"`
	Category        string       `db:"category"`
	PriceCents      int64        `db:"price_cents"`
	CostCents       int64        `db:"cost_cents"`
	Stock           int          `db:"stock"`
	SalesCount      int          `db:"sales_count"`
	Active          bool         `db:"active"`
	DeadStock       bool         `db:"dead_stock"`
	LastRestockedAt sql.NullTime `db:"last_restocked_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	p := domain.Product{
		ID:         r.ID,
		Name:       r.Name,
		Category:   r.Category,
		PriceCents: r.PriceCents,
		CostCents:  r.CostCents,
		Stock:      r.Stock,
		SalesCount: r.SalesCount,
		Active:     r.Active,
		DeadStock:  r.DeadStock,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.LastRestockedAt.Valid {
		at := r.LastRestockedAt.Time.UTC()
		p.LastRestockedAt = &at
	}
	return p
}

const saleColumns = `id, created_at, items_json, subtotal_cents, tax_cents, total_cents, payment_mode, operator, terminal_id,
	customer_phone, status, cancellation_reason, cancelled_by, cancelled_at, integrity_hash, idempotency_key`

type saleRow struct {
	ID                 int64          `db:"id"`
	CreatedAt          time.Time      `db:"created_at"`
	ItemsJSON          string         `db:"items_json"`
	SubtotalCents      int64          `db:"subtotal_cents"`
	TaxCents           int64          `db:"tax_cents"`
	TotalCents         int64          `db:"total_cents"`
	PaymentMode        string         `db:"payment_mode"`
	Operator           string         `db:"operator"`
	TerminalID         string         `db:"terminal_id"`
	CustomerPhone      sql.NullString `db:"customer_phone"`
	Status             string         `db:"status"`
	CancellationReason sql.NullString `db:"cancellation_reason"`
	CancelledBy        sql.NullString `db:"cancelled_by"`
	CancelledAt        sql.NullTime   `db:"cancelled_at"`
	IntegrityHash      string         `db:"integrity_hash"`
	IdempotencyKey     sql.NullString `db:"idempotency_key"`
}

func (r saleRow) toDomain() (domain.Sale, error) {
	items, err := domain.DecodeItems(r.ItemsJSON)
	if err != nil {
		return domain.Sale{}, err
	}
	sale := domain.Sale{
		ID:                 r.ID,
		CreatedAt:          r.CreatedAt.UTC(),
		Items:              items,
		SubtotalCents:      r.SubtotalCents,
		TaxCents:           r.TaxCents,
		TotalCents:         r.TotalCents,
		PaymentMode:        domain.PaymentMode(r.PaymentMode),
		Operator:           r.Operator,
		TerminalID:         r.TerminalID,
		CustomerPhone:      r.CustomerPhone.String,
		Status:             r.Status,
		CancellationReason: r.CancellationReason.String,
		CancelledBy:        r.CancelledBy.String,
		IntegrityHash:      r.IntegrityHash,
		IdempotencyKey:     r.IdempotencyKey.String,
	}
	if r.CancelledAt.Valid {
		at := r.CancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	return sale, nil
}

func salesFromRows(rows []saleRow) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sale, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

const customerColumns = `phone, name, email, visits, total_spend_cents, loyalty_points, segment, created_at, updated_at`

type customerRow struct {
	Phone           string    `db:"phone"`
	Name            string    `db:"name"`
	Email           string    `db:"email"`
	Visits          int       `db:"visits"`
	TotalSpendCents int64     `db:"total_spend_cents"`
	LoyaltyPoints   int64     `db:"loyalty_points"`
	Segment         string    `db:"segment"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		Phone:           r.Phone,
		Name:            r.Name,
		Email:           r.Email,
		Visits:          r.Visits,
		TotalSpendCents: r.TotalSpendCents,
		LoyaltyPoints:   r.LoyaltyPoints,
		Segment:         r.Segment,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type auditRow struct {
	ID         int64     `db:"id"`
	CreatedAt  time.Time `db:"created_at"`
	Actor      string    `db:"actor"`
	ActorRole  string    `db:"actor_role"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Detail     string    `db:"detail"`
}

type userRow struct {
	Username     string    `db:"username"`
	FullName     string    `db:"full_name"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toDomain() domain.UserAccount {
	return domain.UserAccount{
		Username:     r.Username,
		FullName:     r.FullName,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}
