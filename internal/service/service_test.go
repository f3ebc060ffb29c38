package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possale/backend/internal/auth"
	"possale/backend/internal/cache"
	"possale/backend/internal/domain"
	"possale/backend/internal/store"
	"possale/backend/internal/store/memory"
)

const (
	adminPassword = "Admin123!"
	op1Password   = "Cashier1"
	op2Password   = "Cashier2"
)

type fixture struct {
	svc     *Service
	repo    *memory.Store
	reports *cache.MemoryReportCache
	admin   context.Context
	op1     context.Context
	op2     context.Context
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := memory.New()
	ctx := context.Background()
	for _, name := range domain.DefaultCategories {
		_, err := repo.CreateCategory(ctx, name)
		require.NoError(t, err)
	}

	accounts := auth.NewManager("service-test-secret-0123456789abcdef", time.Hour, repo)
	for _, u := range []domain.UserCreateRequest{
		{Username: "admin", Password: adminPassword, Role: domain.RoleAdmin},
		{Username: "op1", Password: op1Password, Role: domain.RoleOperator},
		{Username: "op2", Password: op2Password, Role: domain.RoleOperator},
	} {
		_, err := accounts.CreateUser(ctx, u)
		require.NoError(t, err)
	}

	reports := cache.NewMemoryReportCache()
	opts.Reports = reports
	return &fixture{
		svc:     New(repo, accounts, opts),
		repo:    repo,
		reports: reports,
		admin:   WithActor(ctx, domain.Actor{Username: "admin", Role: domain.RoleAdmin}),
		op1:     WithActor(ctx, domain.Actor{Username: "op1", Role: domain.RoleOperator}),
		op2:     WithActor(ctx, domain.Actor{Username: "op2", Role: domain.RoleOperator}),
	}
}

func (f *fixture) product(t *testing.T, name string, priceCents int64, stock int) domain.Product {
	t.Helper()
	p, err := f.repo.CreateProduct(context.Background(), domain.Product{
		Name:       name,
		Category:   "Groceries",
		PriceCents: priceCents,
		CostCents:  priceCents / 2,
		Stock:      stock,
		Active:     true,
	})
	require.NoError(t, err)
	return *p
}

func (f *fixture) reload(t *testing.T, id int64) domain.Product {
	t.Helper()
	p, err := f.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return *p
}

func cashSale(items ...int64) domain.SaleRequest {
	return domain.SaleRequest{Items: items, PaymentMode: "cash", TerminalID: "POS-1"}
}

func TestCommitSaleGroupsCartAndDecrementsStock(t *testing.T) {
	f := newFixture(t, Options{})
	p1 := f.product(t, "Tea", 2000, 5)

	receipt, err := f.svc.CommitSale(f.op1, cashSale(p1.ID, p1.ID))
	require.NoError(t, err)

	assert.Equal(t, int64(4000), receipt.Sale.TotalCents)
	assert.Equal(t, domain.SaleStatusCompleted, receipt.Sale.Status)
	assert.Equal(t, domain.PaymentCash, receipt.Sale.PaymentMode)
	assert.Equal(t, "op1", receipt.Sale.Operator)
	assert.Equal(t, []int64{p1.ID, p1.ID}, receipt.Sale.Items)
	assert.Len(t, receipt.Sale.IntegrityHash, 64)
	assert.False(t, receipt.Duplicate)

	after := f.reload(t, p1.ID)
	assert.Equal(t, 3, after.Stock)
	assert.Equal(t, 2, after.SalesCount)

	logs, err := f.repo.ListAuditLogs(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, domain.AuditActionSaleCompleted, logs[0].Action)
	assert.Equal(t, "Sale #1. Value: ₹40.00. Items: 2", logs[0].Detail)
}

func TestCommitSaleInsufficientStockLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, Options{})
	ok := f.product(t, "Bread", 3000, 10)
	scarce := f.product(t, "Milk", 5000, 1)

	_, err := f.svc.CommitSale(f.op1, cashSale(ok.ID, scarce.ID, scarce.ID))
	require.Error(t, err)

	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Milk", stockErr.Name)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Required)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 10, f.reload(t, ok.ID).Stock)
	assert.Equal(t, 0, f.reload(t, ok.ID).SalesCount)
	assert.Equal(t, 1, f.reload(t, scarce.ID).Stock)

	sales, err := f.svc.ListSales(f.admin, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCommitSaleRejectsUnknownAndInactiveProducts(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Soap", 4000, 3)

	_, err := f.svc.CommitSale(f.op1, cashSale(p.ID, 999))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.svc.DeleteProduct(f.admin, p.ID))
	_, err = f.svc.CommitSale(f.op1, cashSale(p.ID))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 3, f.reload(t, p.ID).Stock)
}

func TestCommitSaleValidation(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Pen", 1000, 3)

	cases := map[string]domain.SaleRequest{
		"empty cart":      {PaymentMode: "cash", TerminalID: "POS-1"},
		"bad id":          {Items: []int64{0}, PaymentMode: "cash", TerminalID: "POS-1"},
		"bad payment":     {Items: []int64{p.ID}, PaymentMode: "cheque", TerminalID: "POS-1"},
		"no terminal":     {Items: []int64{p.ID}, PaymentMode: "cash"},
		"negative tax":    {Items: []int64{p.ID}, PaymentMode: "cash", TerminalID: "POS-1", TaxCents: -1},
		"bad phone":       {Items: []int64{p.ID}, PaymentMode: "cash", TerminalID: "POS-1", CustomerPhone: "12ab"},
		"bad idempotency": {Items: []int64{p.ID}, PaymentMode: "cash", TerminalID: "POS-1", IdempotencyKey: "abc"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CommitSale(f.op1, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err := f.svc.CommitSale(context.Background(), cashSale(p.ID))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 3, f.reload(t, p.ID).Stock)
}

func TestCommitSaleAddsTaxAndIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Rice", 10000, 5)

	req := cashSale(p.ID)
	req.PaymentMode = "UPI"
	req.TaxCents = 1800
	req.IdempotencyKey = "6f1c2a7e-8d0b-4c39-9a57-1c2d3e4f5a6b"

	first, err := f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), first.Sale.SubtotalCents)
	assert.Equal(t, int64(11800), first.Sale.TotalCents)
	assert.Equal(t, domain.PaymentUPI, first.Sale.PaymentMode)

	second, err := f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Equal(t, 4, f.reload(t, p.ID).Stock)
}

func TestIdempotentReplayStaysWithItsOperatorAndCart(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Oats", 4000, 10)
	q := f.product(t, "Honey", 9000, 10)

	req := cashSale(p.ID, q.ID)
	req.IdempotencyKey = "0b7d6a52-3c1e-4f0a-8e2b-9d4c5a6b7e8f"
	first, err := f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)

	_, err = f.svc.CommitSale(f.op2, req)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NotContains(t, err.Error(), "op1")

	other := req
	other.Items = []int64{p.ID, p.ID}
	_, err = f.svc.CommitSale(f.op1, other)
	assert.ErrorIs(t, err, domain.ErrConflict)

	reordered := req
	reordered.Items = []int64{q.ID, p.ID}
	replay, err := f.svc.CommitSale(f.op1, reordered)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.Sale.ID, replay.Sale.ID)

	byAdmin, err := f.svc.CommitSale(f.admin, req)
	require.NoError(t, err)
	assert.True(t, byAdmin.Duplicate)

	assert.Equal(t, 9, f.reload(t, p.ID).Stock)
	assert.Equal(t, 9, f.reload(t, q.ID).Stock)
}

func TestCommitSaleUpdatesCustomerLedger(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Laptop Bag", 600000, 5)

	req := cashSale(p.ID, p.ID)
	req.CustomerPhone = "98765 43210"
	receipt, err := f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)
	assert.True(t, receipt.CustomerCreated)
	assert.Equal(t, "9876543210", receipt.Sale.CustomerPhone)

	customer, err := f.svc.GetCustomer(f.op1, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, int64(1200000), customer.TotalSpendCents)
	assert.Equal(t, 1, customer.Visits)
	assert.Equal(t, int64(120), customer.LoyaltyPoints)
	assert.Equal(t, domain.SegmentRegular, customer.Segment)

	req.Items = []int64{p.ID}
	receipt, err = f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)
	assert.False(t, receipt.CustomerCreated)

	customer, err = f.svc.GetCustomer(f.op1, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, 2, customer.Visits)
	assert.Equal(t, int64(1800000), customer.TotalSpendCents)
}

func TestCommitSaleInvalidatesReports(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Juice", 2500, 5)

	before, _ := f.reports.Generation(context.Background())
	_, err := f.svc.CommitSale(f.op1, cashSale(p.ID))
	require.NoError(t, err)
	after, _ := f.reports.Generation(context.Background())
	assert.Greater(t, after, before)
}

func TestCancelRoundTripCustomerSegment(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Snack", 10000, 5)

	req := cashSale(p.ID)
	req.CustomerPhone = "+919876500001"
	receipt, err := f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)

	customer, err := f.svc.GetCustomer(f.op1, "+919876500001")
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentOccasional, customer.Segment)
	assert.Equal(t, 1, customer.Visits)

	result, err := f.svc.CancelSale(f.op1, domain.CancelSaleRequest{
		SaleID:     receipt.Sale.ID,
		Reason:     "customer changed mind",
		Credential: op1Password,
	})
	require.NoError(t, err)
	assert.Equal(t, "Success. Order cancelled.", result.Message)
	assert.Equal(t, domain.SaleStatusCancelled, result.Status)

	customer, err = f.svc.GetCustomer(f.op1, "+919876500001")
	require.NoError(t, err)
	assert.Zero(t, customer.TotalSpendCents)
	assert.Zero(t, customer.LoyaltyPoints)
	assert.Equal(t, 1, customer.Visits)
	assert.Equal(t, domain.SegmentNew, customer.Segment)

	sale, err := f.svc.GetSale(f.op1, receipt.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, sale.Status)
	assert.Equal(t, "customer changed mind", sale.CancellationReason)
	assert.Equal(t, "op1", sale.CancelledBy)
	assert.NotNil(t, sale.CancelledAt)
}

func TestCancelCanDecrementVisitsWhenConfigured(t *testing.T) {
	f := newFixture(t, Options{CancelDecrementsVisits: true})
	p := f.product(t, "Snack", 10000, 5)

	req := cashSale(p.ID)
	req.CustomerPhone = "9876500001"
	receipt, err := f.svc.CommitSale(f.op1, req)
	require.NoError(t, err)

	_, err = f.svc.CancelSale(f.op1, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "wrong item", Credential: op1Password})
	require.NoError(t, err)

	customer, err := f.svc.GetCustomer(f.op1, "9876500001")
	require.NoError(t, err)
	assert.Zero(t, customer.Visits)
	assert.Equal(t, domain.SegmentNew, customer.Segment)
}

func TestCancelRestoresStockExactly(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.product(t, "A", 1000, 7)
	b := f.product(t, "B", 2500, 4)
	beforeA, beforeB := f.reload(t, a.ID), f.reload(t, b.ID)

	receipt, err := f.svc.CommitSale(f.op1, cashSale(a.ID, b.ID, a.ID, a.ID))
	require.NoError(t, err)
	assert.Equal(t, 4, f.reload(t, a.ID).Stock)

	_, err = f.svc.CancelSale(f.op1, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "void", Credential: op1Password})
	require.NoError(t, err)

	afterA, afterB := f.reload(t, a.ID), f.reload(t, b.ID)
	assert.Equal(t, beforeA.Stock, afterA.Stock)
	assert.Equal(t, beforeA.SalesCount, afterA.SalesCount)
	assert.Equal(t, beforeB.Stock, afterB.Stock)
	assert.Equal(t, beforeB.SalesCount, afterB.SalesCount)
}

func TestCancelTwiceIsStateError(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Cola", 3000, 5)
	receipt, err := f.svc.CommitSale(f.op1, cashSale(p.ID))
	require.NoError(t, err)

	req := domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "duplicate scan", Credential: op1Password}
	_, err = f.svc.CancelSale(f.op1, req)
	require.NoError(t, err)
	stock := f.reload(t, p.ID).Stock
	logs, _ := f.repo.ListAuditLogs(context.Background(), 0)

	_, err = f.svc.CancelSale(f.op1, req)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, "already cancelled", err.Error())
	assert.Equal(t, stock, f.reload(t, p.ID).Stock)
	logsAfter, _ := f.repo.ListAuditLogs(context.Background(), 0)
	assert.Len(t, logsAfter, len(logs))
}

func TestCancelValidationAndCredentialOrder(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Chips", 2000, 5)
	receipt, err := f.svc.CommitSale(f.op1, cashSale(p.ID))
	require.NoError(t, err)

	_, err = f.svc.CancelSale(f.op1, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: " no ", Credential: "wrong"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CancelSale(f.op1, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "mistake", Credential: "wrong"})
	require.Error(t, err)
	assert.Equal(t, "identity verification failed", err.Error())

	_, err = f.svc.CancelSale(f.op1, domain.CancelSaleRequest{SaleID: 4242, Reason: "mistake", Credential: op1Password})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sale, err := f.svc.GetSale(f.op1, receipt.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, 4, f.reload(t, p.ID).Stock)
}

func TestCancelOwnershipRules(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Bulb", 8000, 5)
	receipt, err := f.svc.CommitSale(f.op1, cashSale(p.ID))
	require.NoError(t, err)

	_, err = f.svc.CancelSale(f.op2, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "not mine", Credential: op2Password})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, 4, f.reload(t, p.ID).Stock)

	_, err = f.svc.CancelSale(f.admin, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "manager void", Credential: adminPassword})
	require.NoError(t, err)
	assert.Equal(t, 5, f.reload(t, p.ID).Stock)

	logs, err := f.svc.ListAuditLogs(f.admin, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditActionUndoSale, logs[0].Action)
	assert.Equal(t, "Cancelled Sale #1. Value: ₹80.00. Reason: manager void", logs[0].Detail)
	assert.Equal(t, "admin", logs[0].Actor)
}

// orphanRepo reports one product as gone inside transactions, the way a row
// removed outside the application would look.
type orphanRepo struct {
	*memory.Store
	missing int64
}

func (r orphanRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(orphanTx{Tx: tx, missing: r.missing})
	})
}

type orphanTx struct {
	store.Tx
	missing int64
}

func (t orphanTx) AdjustProduct(ctx context.Context, id int64, stockDelta, salesDelta int) error {
	if id == t.missing {
		return store.ErrNotFound
	}
	return t.Tx.AdjustProduct(ctx, id, stockDelta, salesDelta)
}

func TestCancelSkipsProductsThatNoLongerExist(t *testing.T) {
	f := newFixture(t, Options{})
	gone := f.product(t, "Ghost", 1000, 5)
	kept := f.product(t, "Kept", 2000, 5)
	receipt, err := f.svc.CommitSale(f.op1, cashSale(gone.ID, kept.ID))
	require.NoError(t, err)

	f.svc.repo = orphanRepo{Store: f.repo, missing: gone.ID}
	_, err = f.svc.CancelSale(f.admin, domain.CancelSaleRequest{SaleID: receipt.Sale.ID, Reason: "cleanup", Credential: adminPassword})
	require.NoError(t, err)

	assert.Equal(t, 4, f.reload(t, gone.ID).Stock)
	assert.Equal(t, 5, f.reload(t, kept.ID).Stock)
}

func TestStockConservationOverRandomHistory(t *testing.T) {
	f := newFixture(t, Options{})
	products := []domain.Product{
		f.product(t, "P1", 1000, 20),
		f.product(t, "P2", 1500, 10),
		f.product(t, "P3", 700, 5),
	}
	initial := map[int64]int{}
	for _, p := range products {
		initial[p.ID] = p.Stock
	}

	rng := rand.New(rand.NewSource(7))
	sold := map[int64]int{}
	var open []domain.Sale
	for i := 0; i < 60; i++ {
		if len(open) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(open))
			sale := open[idx]
			_, err := f.svc.CancelSale(f.op1, domain.CancelSaleRequest{SaleID: sale.ID, Reason: "random", Credential: op1Password})
			require.NoError(t, err)
			for _, id := range sale.Items {
				sold[id]--
			}
			open = append(open[:idx], open[idx+1:]...)
			continue
		}

		items := make([]int64, 0, 3)
		for n := rng.Intn(3) + 1; n > 0; n-- {
			items = append(items, products[rng.Intn(len(products))].ID)
		}
		receipt, err := f.svc.CommitSale(f.op1, cashSale(items...))
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientStock)
			continue
		}
		for _, id := range items {
			sold[id]++
		}
		open = append(open, receipt.Sale)
	}

	for _, p := range products {
		current := f.reload(t, p.ID)
		assert.GreaterOrEqual(t, current.Stock, 0)
		assert.Equal(t, initial[p.ID]-sold[p.ID], current.Stock, p.Name)
		assert.Equal(t, sold[p.ID], current.SalesCount, p.Name)
	}
}

func TestListSalesScopesOperatorsAndFiltersByDate(t *testing.T) {
	day := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, Options{Now: func() time.Time { return day }})
	p := f.product(t, "Water", 1000, 20)

	_, err := f.svc.CommitSale(f.op1, cashSale(p.ID))
	require.NoError(t, err)
	_, err = f.svc.CommitSale(f.op2, cashSale(p.ID))
	require.NoError(t, err)

	mine, err := f.svc.ListSales(f.op1, domain.SaleFilter{OperatorLike: "op"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "op1", mine[0].Operator)

	all, err := f.svc.ListSales(f.admin, domain.SaleFilter{Date: "2024-05-10"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Greater(t, all[0].ID, all[1].ID)

	none, err := f.svc.ListSales(f.admin, domain.SaleFilter{Date: "2024-05-11"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ListSales(f.admin, domain.SaleFilter{Date: "10/05/2024"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.GetSale(f.op2, mine[0].ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestBuildReceipt(t *testing.T) {
	f := newFixture(t, Options{})
	p := f.product(t, "Notebook", 5000, 10)
	receipt, err := f.svc.CommitSale(f.op1, cashSale(p.ID, p.ID))
	require.NoError(t, err)

	out, err := f.svc.BuildReceipt(f.op1, receipt.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipt-1.txt", out.FileName)
	assert.Contains(t, out.PreviewText, "SmartInventory Enterprise")
	assert.Contains(t, out.PreviewText, "Notebook x2")
	assert.Contains(t, out.PreviewText, "Total    : ₹100.00")
	assert.Contains(t, out.PreviewText, receipt.Sale.IntegrityHash)
	assert.NotContains(t, out.PreviewText, "CANCELLED")
}
