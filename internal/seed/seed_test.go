package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possale/backend/internal/domain"
	"possale/backend/internal/store/memory"
)

func TestApplySeedsBaselineOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	opts := Options{AdminPassword: "Admin123!", OperatorPassword: "Pos12345", DemoCatalog: true}

	require.NoError(t, Apply(ctx, repo, opts))
	require.NoError(t, Apply(ctx, repo, opts))

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, len(domain.DefaultCategories))

	products, err := repo.ListProducts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, products, len(demoProducts))
	for _, p := range products {
		assert.NotNil(t, p.LastRestockedAt)
		assert.True(t, p.Active)
	}

	settings, err := repo.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, settings, len(domain.DefaultSettings))

	admin, err := repo.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.NotEqual(t, "Admin123!", admin.PasswordHash)

	operator, err := repo.GetUser(ctx, "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOperator, operator.Role)

	customer, err := repo.GetCustomer(ctx, "9876500002")
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentNew, customer.Segment)
	assert.Zero(t, customer.TotalSpendCents)
}

func TestApplyKeepsExistingSettingsAndSkipsUsersWithoutPassword(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	require.NoError(t, repo.PutSettings(ctx, map[string]string{domain.SettingStoreName: "Corner Shop"}))

	require.NoError(t, Apply(ctx, repo, Options{}))

	settings, err := repo.ListSettings(ctx)
	require.NoError(t, err)
	values := map[string]string{}
	for _, s := range settings {
		values[s.Key] = s.Value
	}
	assert.Equal(t, "Corner Shop", values[domain.SettingStoreName])
	assert.Equal(t, "18", values[domain.SettingTaxRate])

	_, err = repo.GetUser(ctx, "admin")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	products, err := repo.ListProducts(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, products)
}
