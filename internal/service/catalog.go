package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

const defaultSearchLimit = 20

// ListProducts returns the catalog. A non-empty query switches to a name
// prefix search; inactive products are only listed for admins.
func (s *Service) ListProducts(ctx context.Context, query string, includeInactive bool) ([]domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if query = strings.TrimSpace(query); query != "" {
		return s.repo.SearchProducts(ctx, query, defaultSearchLimit)
	}
	return s.repo.ListProducts(ctx, includeInactive && actor.IsAdmin())
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, domain.NewNotFound("product", id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, domain.NewValidation("name", "is required")
	}
	if err := validatePricing(req.PriceCents, req.CostCents); err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock < 0 {
		return domain.Product{}, domain.NewValidation("initial_stock", "must not be negative")
	}
	category, err := s.resolveCategory(ctx, req.Category)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product := domain.Product{
		Name:       name,
		Category:   category,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Stock:      req.InitialStock,
		Active:     true,
		CreatedAt:  now,
	}
	if req.InitialStock > 0 {
		product.LastRestockedAt = &now
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, domain.AuditActionProductCreated, "product", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("name=%s,category=%s,price=%d,stock=%d", created.Name, created.Category, created.PriceCents, created.Stock))
	s.invalidateReports(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	changes := make([]string, 0, 6)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, domain.NewValidation("name", "is required")
		}
		current.Name = name
		changes = append(changes, "name="+name)
	}
	if req.Category != nil {
		category, err := s.resolveCategory(ctx, *req.Category)
		if err != nil {
			return domain.Product{}, err
		}
		current.Category = category
		changes = append(changes, "category="+category)
	}
	if req.PriceCents != nil {
		current.PriceCents = *req.PriceCents
		changes = append(changes, fmt.Sprintf("price=%d", current.PriceCents))
	}
	if req.CostCents != nil {
		current.CostCents = *req.CostCents
		changes = append(changes, fmt.Sprintf("cost=%d", current.CostCents))
	}
	if req.Active != nil {
		current.Active = *req.Active
		changes = append(changes, fmt.Sprintf("active=%t", current.Active))
	}
	if req.DeadStock != nil {
		current.DeadStock = *req.DeadStock
		changes = append(changes, fmt.Sprintf("dead_stock=%t", current.DeadStock))
	}
	if len(changes) == 0 {
		return domain.Product{}, domain.NewValidation("", "no changes supplied")
	}
	if err := validatePricing(current.PriceCents, current.CostCents); err != nil {
		return domain.Product{}, err
	}

	updated, err := s.repo.UpdateProduct(ctx, current)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, domain.NewNotFound("product", id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, domain.AuditActionProductUpdated, "product", strconv.FormatInt(id, 10), strings.Join(changes, ","))
	s.invalidateReports(ctx)
	return *updated, nil
}

// DeleteProduct deactivates the product. Sales keep referring to it, so the
// row itself is never removed.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if !current.Active {
		return nil
	}
	current.Active = false
	_, err = s.repo.UpdateProduct(ctx, current)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewNotFound("product", id)
	}
	if err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditActionProductDeleted, "product", strconv.FormatInt(id, 10), current.Name)
	s.invalidateReports(ctx)
	return nil
}

func (s *Service) RestockProduct(ctx context.Context, id int64, req domain.RestockRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if req.Quantity <= 0 {
		return domain.Product{}, domain.NewValidation("quantity", "must be positive")
	}
	product, err := s.repo.RestockProduct(ctx, id, req.Quantity, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, domain.NewNotFound("product", id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, domain.AuditActionRestock, "product", strconv.FormatInt(id, 10),
		fmt.Sprintf("Restocked %s +%d. Stock: %d", product.Name, req.Quantity, product.Stock))
	s.invalidateReports(ctx)
	return *product, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, domain.NewValidation("name", "is required")
	}
	category, err := s.repo.CreateCategory(ctx, name)
	if errors.Is(err, store.ErrConflict) {
		return domain.Category{}, fmt.Errorf("category %s already exists: %w", name, domain.ErrConflict)
	}
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, domain.AuditActionCategoryCreated, "category", name, "")
	return *category, nil
}

// resolveCategory matches a category case-insensitively and returns its
// stored spelling.
func (s *Service) resolveCategory(ctx context.Context, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", domain.NewValidation("category", "is required")
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c.Name, nil
		}
	}
	return "", domain.NewValidation("category", fmt.Sprintf("unknown category %q", name))
}

func validatePricing(priceCents, costCents int64) error {
	if priceCents <= 0 {
		return domain.NewValidation("price_cents", "must be positive")
	}
	if costCents < 0 {
		return domain.NewValidation("cost_cents", "must not be negative")
	}
	return nil
}
