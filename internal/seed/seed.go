package seed

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"possale/backend/internal/auth"
	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

type Options struct {
	AdminPassword    string
	OperatorPassword string
	DemoCatalog      bool
}

type demoProduct struct {
	name       string
	category   string
	priceCents int64
	costCents  int64
	stock      int
}

var demoProducts = []demoProduct{
	{"USB Cable", "Electronics", 15000, 5000, 60},
	{"Earphones", "Electronics", 50000, 30000, 40},
	{"Power Bank", "Electronics", 120000, 90000, 25},
	{"Rice 5kg", "Groceries", 45000, 38000, 50},
	{"Cooking Oil 1L", "Groceries", 18000, 15000, 45},
	{"Mineral Water", "Beverages", 2000, 1200, 100},
	{"Cold Coffee", "Beverages", 6000, 3500, 70},
	{"Cotton T-Shirt", "Fashion", 40000, 22000, 30},
	{"Notebook", "Stationery", 5000, 3000, 80},
	{"Pen Set", "Stationery", 10000, 7000, 60},
	{"Hand Sanitizer", "Health", 9000, 5500, 55},
	{"Vitamin C Tabs", "Health", 25000, 16000, 35},
}

var demoCustomers = []domain.Customer{
	{Phone: "9876500001", Name: "Amit Sharma", Email: "amit.s@example.com"},
	{Phone: "9876500002", Name: "Priya Singh", Email: "priya.s@example.com"},
	{Phone: "9876500003", Name: "Rahul Verma", Email: "rahul.v@example.com"},
}

// Apply brings a store up to its baseline: default categories and settings,
// the two default logins, and optionally a demo catalog. Every step skips
// what already exists, so Apply is safe to run on each start.
func Apply(ctx context.Context, repo store.Repository, opts Options) error {
	if err := seedCategories(ctx, repo); err != nil {
		return err
	}
	if err := seedSettings(ctx, repo); err != nil {
		return err
	}
	if err := seedUser(ctx, repo, "admin", "System Admin", domain.RoleAdmin, opts.AdminPassword); err != nil {
		return err
	}
	if err := seedUser(ctx, repo, "operator", "POS Operator", domain.RoleOperator, opts.OperatorPassword); err != nil {
		return err
	}
	if opts.DemoCatalog {
		return seedCatalog(ctx, repo)
	}
	return nil
}

func seedCategories(ctx context.Context, repo store.Repository) error {
	existing, err := repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}
	for _, name := range domain.DefaultCategories {
		if have[name] {
			continue
		}
		if _, err := repo.CreateCategory(ctx, name); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return nil
}

func seedSettings(ctx context.Context, repo store.Repository) error {
	existing, err := repo.ListSettings(ctx)
	if err != nil {
		return err
	}
	missing := make(map[string]string, len(domain.DefaultSettings))
	for k, v := range domain.DefaultSettings {
		missing[k] = v
	}
	for _, s := range existing {
		delete(missing, s.Key)
	}
	if len(missing) == 0 {
		return nil
	}
	return repo.PutSettings(ctx, missing)
}

func seedUser(ctx context.Context, repo store.Repository, username, fullName, role, password string) error {
	if password == "" {
		return nil
	}
	_, err := repo.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = repo.CreateUser(ctx, domain.UserAccount{
		Username:     username,
		FullName:     fullName,
		PasswordHash: hashed,
		Role:         role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err == nil {
		log.WithField("username", username).Info("seeded default user")
	}
	return err
}

func seedCatalog(ctx context.Context, repo store.Repository) error {
	products, err := repo.ListProducts(ctx, true)
	if err != nil {
		return err
	}
	if len(products) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, p := range demoProducts {
		_, err := repo.CreateProduct(ctx, domain.Product{
			Name:            p.name,
			Category:        p.category,
			PriceCents:      p.priceCents,
			CostCents:       p.costCents,
			Stock:           p.stock,
			Active:          true,
			LastRestockedAt: &now,
		})
		if err != nil {
			return err
		}
	}
	for _, c := range demoCustomers {
		if _, _, err := repo.SaveCustomerProfile(ctx, c.Phone, c.Name, c.Email, now); err != nil {
			return err
		}
	}
	log.WithField("products", len(demoProducts)).Info("seeded demo catalog")
	return nil
}
