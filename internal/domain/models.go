package domain

import "time"

type Product struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	PriceCents      int64      `json:"price_cents"`
	CostCents       int64      `json:"cost_cents"`
	Stock           int        `json:"stock"`
	SalesCount      int        `json:"sales_count"`
	Active          bool       `json:"active"`
	DeadStock       bool       `json:"dead_stock"`
	LastRestockedAt *time.Time `json:"last_restocked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
}

// ProductUpdateRequest never carries stock or sales_count; those move only
// through restock and the sale commit/cancel path.
type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
	DeadStock  *bool   `json:"dead_stock,omitempty"`
}

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

type Category struct {
	Name string `json:"name"`
}

type CategoryCreateRequest struct {
	Name string `json:"name"`
}

type Customer struct {
	Phone           string    `json:"phone"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Visits          int       `json:"visits"`
	TotalSpendCents int64     `json:"total_spend_cents"`
	LoyaltyPoints   int64     `json:"loyalty_points"`
	Segment         string    `json:"segment"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CustomerProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Sale struct {
	ID                 int64       `json:"id"`
	CreatedAt          time.Time   `json:"created_at"`
	Items              []int64     `json:"items"`
	SubtotalCents      int64       `json:"subtotal_cents"`
	TaxCents           int64       `json:"tax_cents"`
	TotalCents         int64       `json:"total_cents"`
	PaymentMode        PaymentMode `json:"payment_mode"`
	Operator           string      `json:"operator"`
	TerminalID         string      `json:"terminal_id"`
	CustomerPhone      string      `json:"customer_phone,omitempty"`
	Status             string      `json:"status"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
	CancelledBy        string      `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	IntegrityHash      string      `json:"integrity_hash"`
	IdempotencyKey     string      `json:"idempotency_key,omitempty"`
}

// SaleRequest is everything one commit needs. The operator is taken from the
// Actor on the request context, never from the body.
type SaleRequest struct {
	Items          []int64 `json:"items"`
	PaymentMode    string  `json:"payment_mode"`
	TerminalID     string  `json:"terminal_id"`
	CustomerPhone  string  `json:"customer_phone,omitempty"`
	TaxCents       int64   `json:"tax_cents"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

type SaleReceipt struct {
	Sale            Sale `json:"sale"`
	CustomerCreated bool `json:"customer_created"`
	Duplicate       bool `json:"duplicate"`
}

type CancelSaleRequest struct {
	SaleID     int64  `json:"-"`
	Reason     string `json:"reason"`
	Credential string `json:"credential"`
}

type CancelSaleResult struct {
	SaleID      int64     `json:"sale_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// Cancellation is the metadata written on the Completed -> Cancelled transition.
type Cancellation struct {
	Reason      string
	CancelledBy string
	CancelledAt time.Time
}

type SaleFilter struct {
	ID           int64
	OperatorLike string
	Operator     string
	Date         string
	Status       string
	From         *time.Time
	To           *time.Time
	Limit        int
}

type ReceiptResponse struct {
	SaleID      int64  `json:"sale_id"`
	PreviewText string `json:"preview_text"`
	FileName    string `json:"file_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
}

type UserStatusRequest struct {
	Active bool `json:"active"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type User struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username     string
	FullName     string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

func (u UserAccount) Public() User {
	return User{
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type AuditLog struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type SettingsUpdateRequest struct {
	Values map[string]string `json:"values"`
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

const (
	SaleStatusCompleted = "Completed"
	SaleStatusCancelled = "Cancelled"
)

const (
	AuditActionSaleCompleted   = "Sale Completed"
	AuditActionUndoSale        = "Undo Sale"
	AuditActionProductCreated  = "Product Created"
	AuditActionProductUpdated  = "Product Updated"
	AuditActionProductDeleted  = "Product Deleted"
	AuditActionRestock         = "Restock"
	AuditActionCategoryCreated = "Category Created"
	AuditActionCustomerUpdated = "Customer Updated"
	AuditActionUserCreated     = "User Created"
	AuditActionUserStatus      = "User Status Changed"
	AuditActionPasswordChanged = "Password Changed"
	AuditActionSettingsUpdated = "Settings Updated"
)

const (
	SettingStoreName      = "store_name"
	SettingCurrencySymbol = "currency_symbol"
	SettingTaxRate        = "tax_rate"
	SettingGSTEnabled     = "gst_enabled"
)

// DefaultSettings are written once when a store is initialised.
var DefaultSettings = map[string]string{
	SettingStoreName:      "SmartInventory Enterprise",
	SettingCurrencySymbol: "₹",
	SettingTaxRate:        "18",
	SettingGSTEnabled:     "false",
}

var DefaultCategories = []string{"Electronics", "Groceries", "Beverages", "Fashion", "Stationery", "Health"}
