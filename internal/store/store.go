package store

import (
	"context"
	"time"

	"possale/backend/internal/domain"
)

var (
	ErrNotFound          = domain.ErrNotFound
	ErrInsufficientStock = domain.ErrInsufficientStock
	ErrConflict          = domain.ErrConflict
	ErrInvalidState      = domain.ErrInvalidState
)

// Repository is the storage boundary. Reads and admin writes run on their own;
// anything that touches stock, sales_count, sales or customer aggregates goes
// through WithinTx.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	SearchProducts(ctx context.Context, prefix string, limit int) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	RestockProduct(ctx context.Context, id int64, qty int, at time.Time) (*domain.Product, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, name string) (*domain.Category, error)

	GetCustomer(ctx context.Context, phone string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)
	SaveCustomerProfile(ctx context.Context, phone, name, email string, at time.Time) (*domain.Customer, bool, error)

	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
	SetUserActive(ctx context.Context, username string, active bool) error
	CountActiveAdmins(ctx context.Context) (int, error)

	ListSettings(ctx context.Context) ([]domain.Setting, error)
	PutSettings(ctx context.Context, values map[string]string) error
}

// Tx is the storage view handed to a WithinTx callback. Rows read through it
// stay locked until the callback returns.
type Tx interface {
	LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	AdjustProduct(ctx context.Context, id int64, stockDelta, salesDelta int) error

	FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) (int64, error)
	LockSale(ctx context.Context, id int64) (*domain.Sale, error)
	MarkSaleCancelled(ctx context.Context, id int64, c domain.Cancellation) error

	UpsertCustomer(ctx context.Context, phone string, at time.Time) (*domain.Customer, bool, error)
	LockCustomer(ctx context.Context, phone string) (*domain.Customer, error)
	SaveCustomerAggregates(ctx context.Context, customer domain.Customer) error

	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// UserStore is the slice of Repository the auth layer needs.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
	SetUserActive(ctx context.Context, username string, active bool) error
	CountActiveAdmins(ctx context.Context) (int, error)
}
