package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

type state struct {
	products      map[int64]domain.Product
	nextProductID int64
	categories    map[string]domain.Category
	customers     map[string]domain.Customer
	sales         map[int64]domain.Sale
	salesByIdem   map[string]int64
	nextSaleID    int64
	auditLogs     []domain.AuditLog
	nextAuditID   int64
	users         map[string]domain.UserAccount
	settings      map[string]string
}

// Store keeps everything in process memory. WithinTx runs under the write
// lock against the live state and puts a snapshot back if the callback fails.
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: &state{
		products:    make(map[int64]domain.Product),
		categories:  make(map[string]domain.Category),
		customers:   make(map[string]domain.Customer),
		sales:       make(map[int64]domain.Sale),
		salesByIdem: make(map[string]int64),
		auditLogs:   make([]domain.AuditLog, 0, 128),
		users:       make(map[string]domain.UserAccount),
		settings:    make(map[string]string),
	}}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, prefix string, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix = strings.ToLower(strings.TrimSpace(prefix))
	products := make([]domain.Product, 0, 16)
	for _, p := range s.st.products {
		if !p.Active || !strings.HasPrefix(strings.ToLower(p.Name), prefix) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextProductID++
	product.ID = s.st.nextProductID
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.st.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current.Name = product.Name
	current.Category = product.Category
	current.PriceCents = product.PriceCents
	current.CostCents = product.CostCents
	current.Active = product.Active
	current.DeadStock = product.DeadStock
	current.UpdatedAt = time.Now().UTC()
	s.st.products[current.ID] = current
	return &current, nil
}

func (s *Store) RestockProduct(_ context.Context, id int64, qty int, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Stock += qty
	restockedAt := at
	product.LastRestockedAt = &restockedAt
	product.UpdatedAt = at
	s.st.products[id] = product
	return &product, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.st.categories))
	for _, c := range s.st.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, name string) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := s.st.categories[key]; exists {
		return nil, store.ErrConflict
	}
	category := domain.Category{Name: name}
	s.st.categories[key] = category
	return &category, nil
}

func (s *Store) GetCustomer(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.st.customers[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.st.customers))
	for _, c := range s.st.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.TotalSpendCents != b.TotalSpendCents {
			if a.TotalSpendCents > b.TotalSpendCents {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Phone, b.Phone)
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) SaveCustomerProfile(_ context.Context, phone, name, email string, at time.Time) (*domain.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.st.customers[phone]
	if !exists {
		customer = newCustomer(phone, at)
	}
	customer.Name = name
	customer.Email = email
	customer.UpdatedAt = at
	s.st.customers[phone] = customer
	return &customer, !exists, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		if !matchesSaleFilter(sale, filter) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.appendAudit(entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.st.auditLogs))
	for i := len(s.st.auditLogs) - 1; i >= 0; i-- {
		result = append(result, s.st.auditLogs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.st.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.st.users[user.Username]; exists {
		return nil, store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.st.users[user.Username] = user
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.st.users))
	for _, user := range s.st.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.st.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.st.users[username] = user
	return nil
}

func (s *Store) SetUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.st.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Active = active
	s.st.users[username] = user
	return nil
}

func (s *Store) CountActiveAdmins(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, user := range s.st.users {
		if user.Active && user.Role == domain.RoleAdmin {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListSettings(_ context.Context) ([]domain.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := make([]domain.Setting, 0, len(s.st.settings))
	for k, v := range s.st.settings {
		settings = append(settings, domain.Setting{Key: k, Value: v})
	}
	slices.SortFunc(settings, func(a, b domain.Setting) int {
		return strings.Compare(a.Key, b.Key)
	})
	return settings, nil
}

func (s *Store) PutSettings(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.st.settings[k] = v
	}
	return nil
}

type txView struct {
	st *state
}

func (t *txView) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	found := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := t.st.products[id]; ok {
			found[id] = product
		}
	}
	return found, nil
}

func (t *txView) AdjustProduct(_ context.Context, id int64, stockDelta, salesDelta int) error {
	product, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if product.Stock+stockDelta < 0 {
		return store.ErrInsufficientStock
	}
	product.Stock += stockDelta
	product.SalesCount = max(product.SalesCount+salesDelta, 0)
	product.UpdatedAt = time.Now().UTC()
	t.st.products[id] = product
	return nil
}

func (t *txView) FindSaleByIdempotencyKey(_ context.Context, key string) (*domain.Sale, error) {
	id, ok := t.st.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(t.st.sales[id]), nil
}

func (t *txView) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	if sale.IdempotencyKey != "" {
		if _, exists := t.st.salesByIdem[sale.IdempotencyKey]; exists {
			return 0, store.ErrConflict
		}
	}
	t.st.nextSaleID++
	sale.ID = t.st.nextSaleID
	t.st.sales[sale.ID] = *cloneSale(sale)
	if sale.IdempotencyKey != "" {
		t.st.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	return sale.ID, nil
}

func (t *txView) LockSale(_ context.Context, id int64) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (t *txView) MarkSaleCancelled(_ context.Context, id int64, c domain.Cancellation) error {
	sale, ok := t.st.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return store.ErrInvalidState
	}
	cancelledAt := c.CancelledAt
	sale.Status = domain.SaleStatusCancelled
	sale.CancellationReason = c.Reason
	sale.CancelledBy = c.CancelledBy
	sale.CancelledAt = &cancelledAt
	t.st.sales[id] = sale
	return nil
}

func (t *txView) UpsertCustomer(_ context.Context, phone string, at time.Time) (*domain.Customer, bool, error) {
	if customer, ok := t.st.customers[phone]; ok {
		return &customer, false, nil
	}
	customer := newCustomer(phone, at)
	t.st.customers[phone] = customer
	return &customer, true, nil
}

func (t *txView) LockCustomer(_ context.Context, phone string) (*domain.Customer, error) {
	customer, ok := t.st.customers[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (t *txView) SaveCustomerAggregates(_ context.Context, customer domain.Customer) error {
	current, ok := t.st.customers[customer.Phone]
	if !ok {
		return store.ErrNotFound
	}
	current.Visits = customer.Visits
	current.TotalSpendCents = customer.TotalSpendCents
	current.LoyaltyPoints = customer.LoyaltyPoints
	current.Segment = customer.Segment
	current.UpdatedAt = customer.UpdatedAt
	t.st.customers[customer.Phone] = current
	return nil
}

func (t *txView) AppendAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.st.appendAudit(entry)
	return nil
}

func (st *state) appendAudit(entry domain.AuditLog) {
	st.nextAuditID++
	entry.ID = st.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	st.auditLogs = append(st.auditLogs, entry)
}

func (st *state) clone() *state {
	cp := &state{
		products:      make(map[int64]domain.Product, len(st.products)),
		nextProductID: st.nextProductID,
		categories:    make(map[string]domain.Category, len(st.categories)),
		customers:     make(map[string]domain.Customer, len(st.customers)),
		sales:         make(map[int64]domain.Sale, len(st.sales)),
		salesByIdem:   make(map[string]int64, len(st.salesByIdem)),
		nextSaleID:    st.nextSaleID,
		auditLogs:     slices.Clone(st.auditLogs),
		nextAuditID:   st.nextAuditID,
		users:         make(map[string]domain.UserAccount, len(st.users)),
		settings:      make(map[string]string, len(st.settings)),
	}
	for k, v := range st.products {
		cp.products[k] = v
	}
	for k, v := range st.categories {
		cp.categories[k] = v
	}
	for k, v := range st.customers {
		cp.customers[k] = v
	}
	for k, v := range st.sales {
		cp.sales[k] = *cloneSale(v)
	}
	for k, v := range st.salesByIdem {
		cp.salesByIdem[k] = v
	}
	for k, v := range st.users {
		cp.users[k] = v
	}
	for k, v := range st.settings {
		cp.settings[k] = v
	}
	return cp
}

func newCustomer(phone string, at time.Time) domain.Customer {
	return domain.Customer{
		Phone:     phone,
		Segment:   domain.SegmentNew,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func matchesSaleFilter(sale domain.Sale, f domain.SaleFilter) bool {
	if f.ID > 0 && sale.ID != f.ID {
		return false
	}
	if f.Operator != "" && sale.Operator != f.Operator {
		return false
	}
	if f.OperatorLike != "" && !strings.Contains(strings.ToLower(sale.Operator), strings.ToLower(f.OperatorLike)) {
		return false
	}
	if f.Status != "" && sale.Status != f.Status {
		return false
	}
	if f.From != nil && sale.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !sale.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

func sortProducts(products []domain.Product) {
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category != b.Category {
			return strings.Compare(a.Category, b.Category)
		}
		if a.Name != b.Name {
			return strings.Compare(a.Name, b.Name)
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func cloneSale(src domain.Sale) *domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dst.CancelledAt = &at
	}
	return &dst
}
