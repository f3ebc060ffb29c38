package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possale/backend/internal/cache"
	"possale/backend/internal/domain"
)

type stubReader struct {
	sales     []domain.Sale
	products  []domain.Product
	saleReads int
}

func (s *stubReader) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.saleReads++
	out := []domain.Sale{}
	for _, sale := range s.sales {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, sale)
	}
	return out, nil
}

func (s *stubReader) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	out := []domain.Product{}
	for _, p := range s.products {
		if p.Active || includeInactive {
			out = append(out, p)
		}
	}
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2024, time.May, d, 10, 0, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixture() *stubReader {
	return &stubReader{
		products: []domain.Product{
			{ID: 1, Name: "Laptop", Category: "Electronics", PriceCents: 50000, CostCents: 40000, Active: true, Stock: 5, SalesCount: 2},
			{ID: 2, Name: "Rice", Category: "Groceries", PriceCents: 1000, CostCents: 600, Active: true, Stock: 40, SalesCount: 3},
			{ID: 3, Name: "Old Pen", Category: "Stationery", PriceCents: 500, CostCents: 100, Active: false},
		},
		sales: []domain.Sale{
			{ID: 1, CreatedAt: day(1), Items: []int64{1, 2}, TotalCents: 51000, TaxCents: 0, PaymentMode: domain.PaymentCash, Status: domain.SaleStatusCompleted},
			{ID: 2, CreatedAt: day(2), Items: []int64{2, 2}, TotalCents: 2360, TaxCents: 360, PaymentMode: domain.PaymentUPI, Status: domain.SaleStatusCompleted},
			{ID: 3, CreatedAt: day(2), Items: []int64{1}, TotalCents: 50000, PaymentMode: domain.PaymentCard, Status: domain.SaleStatusCancelled},
			{ID: 4, CreatedAt: day(3), Items: []int64{1, 99}, TotalCents: 52000, PaymentMode: domain.PaymentCash, Status: domain.SaleStatusCompleted},
		},
	}
}

func TestSummaryCountsCompletedOnly(t *testing.T) {
	engine := NewEngine(fixture(), nil, 0)

	summary, err := engine.Summary(context.Background(), Range{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Transactions)
	assert.True(t, money("1053.60").Equal(summary.Revenue), summary.Revenue.String())
	assert.True(t, money("351.20").Equal(summary.AverageOrderValue), summary.AverageOrderValue.String())
	assert.True(t, money("3.60").Equal(summary.TaxCollected))
	assert.Equal(t, 6, summary.ItemsSold)
	assert.Equal(t, 1, summary.Cancelled)
	assert.True(t, money("1030").Equal(summary.ByPaymentMode["Cash"]))
	_, hasCard := summary.ByPaymentMode["Card"]
	assert.False(t, hasCard)
}

func TestSummaryOfEmptyRangeIsZero(t *testing.T) {
	engine := NewEngine(fixture(), nil, 0)
	r, err := ParseRange("2023-01-01", "2023-01-31")
	require.NoError(t, err)

	summary, err := engine.Summary(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Transactions)
	assert.True(t, summary.AverageOrderValue.IsZero())
}

func TestParseRangeIsInclusive(t *testing.T) {
	r, err := ParseRange("2024-05-02", "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, day(2).Truncate(24*time.Hour), r.From)
	assert.Equal(t, day(3).Truncate(24*time.Hour), r.To)

	_, err = ParseRange("05/02/2024", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ParseRange("2024-05-03", "2024-05-01")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRevenueTrendListsOnlyDaysWithSales(t *testing.T) {
	engine := NewEngine(fixture(), nil, 0)

	trend, err := engine.RevenueTrend(context.Background(), Range{})
	require.NoError(t, err)
	require.Len(t, trend.Points, 3)
	assert.Equal(t, "2024-05-01", trend.Points[0].Date)
	assert.Equal(t, "2024-05-02", trend.Points[1].Date)
	assert.Equal(t, 1, trend.Points[1].Transactions)
	// fewer points than the window: plain mean
	assert.True(t, money("351.20").Equal(trend.Forecast), trend.Forecast.String())
}

func TestForecastAndSlope(t *testing.T) {
	series := []decimal.Decimal{money("10"), money("20"), money("30"), money("40"), money("50"), money("60")}
	// weights 1..5 over 20..60
	assert.True(t, money("46.67").Equal(Forecast(series, 5)))
	assert.True(t, Forecast(nil, 5).IsZero())

	assert.InDelta(t, 10.0, Slope(series), 0.0001)
	assert.Equal(t, TrendIncreasing, TrendLabel(Slope(series)))
	assert.Equal(t, TrendDecreasing, TrendLabel(-0.6))
	assert.Equal(t, TrendStable, TrendLabel(0.5))
	assert.Equal(t, 0.0, Slope(series[:1]))
}

func TestCategoryPerformanceSplitsTotalsEqually(t *testing.T) {
	engine := NewEngine(fixture(), nil, 0)

	shares, err := engine.CategoryPerformance(context.Background(), Range{})
	require.NoError(t, err)
	require.Len(t, shares, 3)
	// sale 1: 255 each; sale 4: 260 each
	assert.Equal(t, "Electronics", shares[0].Category)
	assert.True(t, money("515").Equal(shares[0].Revenue), shares[0].Revenue.String())
	assert.Equal(t, 2, shares[0].Units)
	assert.Equal(t, "Groceries", shares[1].Category)
	assert.True(t, money("278.60").Equal(shares[1].Revenue), shares[1].Revenue.String())
	assert.Equal(t, "Unknown", shares[2].Category)
	assert.True(t, money("260").Equal(shares[2].Revenue))
}

func TestProfitLossAndCSV(t *testing.T) {
	engine := NewEngine(fixture(), nil, 0)

	pl, err := engine.ProfitLoss(context.Background(), Range{})
	require.NoError(t, err)
	// 2 laptops + 3 rice; the unknown item is left out
	assert.True(t, money("1030").Equal(pl.Revenue))
	assert.True(t, money("818").Equal(pl.Cost))
	assert.True(t, money("212").Equal(pl.Profit))
	assert.True(t, money("20.58").Equal(pl.MarginPercent), pl.MarginPercent.String())
	require.Len(t, pl.Categories, 2)
	assert.Equal(t, "Electronics", pl.Categories[0].Category)
	assert.True(t, money("40").Equal(pl.Categories[1].MarginPercent))

	var buf bytes.Buffer
	require.NoError(t, pl.WriteCSV(&buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Category", "Revenue", "Cost", "Profit", "Margin %"}, rows[0])
	assert.Equal(t, []string{"TOTAL", "1030.00", "818.00", "212.00", "20.58"}, rows[3])
}

func TestProductRankingCoversWholeCatalog(t *testing.T) {
	engine := NewEngine(fixture(), nil, 0)

	ranking, err := engine.ProductRanking(context.Background(), Range{})
	require.NoError(t, err)
	require.Len(t, ranking.Products, 3)
	// Laptop: 20 + 10 = 30, Rice: 30 + 0.30 = 30.30
	assert.Equal(t, "Rice", ranking.Products[0].Name)
	assert.Equal(t, RankTopSeller, ranking.Products[0].Rank)
	assert.Equal(t, RankAverage, ranking.Products[1].Rank)
	assert.Equal(t, RankLow, ranking.Products[2].Rank)
	assert.Equal(t, "Old Pen", ranking.Products[2].Name)
	assert.Equal(t, []string{"Laptop", "Rice", "Old Pen"}, ranking.Stars)
	assert.Len(t, ranking.High, 3)
	assert.Len(t, ranking.Low, 3)
}

func TestProductRankingWithoutSalesIsEmpty(t *testing.T) {
	reader := fixture()
	reader.sales = nil
	engine := NewEngine(reader, nil, 0)

	ranking, err := engine.ProductRanking(context.Background(), Range{})
	require.NoError(t, err)
	assert.Empty(t, ranking.Products)
	assert.NotNil(t, ranking.Stars)
}

func TestInventoryMetricsEstimatesDemand(t *testing.T) {
	reader := fixture()
	reader.products = append(reader.products, domain.Product{ID: 4, Name: "Tea", Category: "Beverages", Active: true})
	engine := NewEngine(reader, nil, 0)

	metrics, err := engine.InventoryMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, 24, metrics[0].AnnualDemandEstimate)
	assert.Equal(t, 36, metrics[1].AnnualDemandEstimate)
	assert.Equal(t, 10, metrics[2].AnnualDemandEstimate)
}

func TestReportsAreCachedUntilInvalidated(t *testing.T) {
	reader := fixture()
	engine := NewEngine(reader, cache.NewMemoryReportCache(), time.Minute)
	ctx := context.Background()

	first, err := engine.Summary(ctx, Range{})
	require.NoError(t, err)
	reads := reader.saleReads

	reader.sales = append(reader.sales, domain.Sale{ID: 5, CreatedAt: day(4), Items: []int64{2}, TotalCents: 1000, PaymentMode: domain.PaymentCash, Status: domain.SaleStatusCompleted})
	again, err := engine.Summary(ctx, Range{})
	require.NoError(t, err)
	assert.Equal(t, reads, reader.saleReads)
	assert.Equal(t, first.Transactions, again.Transactions)

	require.NoError(t, engine.Invalidate(ctx))
	fresh, err := engine.Summary(ctx, Range{})
	require.NoError(t, err)
	assert.Equal(t, 4, fresh.Transactions)
}
