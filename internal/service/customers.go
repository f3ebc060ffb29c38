package service

import (
	"context"
	"errors"
	"strings"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func (s *Service) GetCustomer(ctx context.Context, rawPhone string) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	phone, err := domain.NormalizePhone(rawPhone)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Customer{}, domain.NewNotFound("customer", phone)
	}
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCustomers(ctx, limit)
}

// SaveCustomerProfile creates or updates the name and email on a customer
// record. Spend, visits and points are never touched here.
func (s *Service) SaveCustomerProfile(ctx context.Context, rawPhone string, req domain.CustomerProfileRequest) (domain.Customer, bool, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, false, err
	}
	phone, err := domain.NormalizePhone(rawPhone)
	if err != nil {
		return domain.Customer{}, false, err
	}
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if email != "" && !domain.ValidEmail(email) {
		return domain.Customer{}, false, domain.NewValidation("email", "is not a valid address")
	}

	customer, created, err := s.repo.SaveCustomerProfile(ctx, phone, name, email, s.now())
	if err != nil {
		return domain.Customer{}, false, err
	}
	s.logAudit(ctx, domain.AuditActionCustomerUpdated, "customer", phone, name)
	return *customer, created, nil
}
