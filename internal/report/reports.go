package report

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
)

const (
	forecastWindow   = 5
	trendSlopeCutoff = 0.5
	unknownCategory  = "Unknown"
)

var hundred = decimal.NewFromInt(100)

type Summary struct {
	Revenue           decimal.Decimal            `json:"revenue"`
	Transactions      int                        `json:"transactions"`
	AverageOrderValue decimal.Decimal            `json:"average_order_value"`
	TaxCollected      decimal.Decimal            `json:"tax_collected"`
	ItemsSold         int                        `json:"items_sold"`
	ByPaymentMode     map[string]decimal.Decimal `json:"by_payment_mode"`
	Cancelled         int                        `json:"cancelled"`
}

func (e *Engine) Summary(ctx context.Context, r Range) (Summary, error) {
	return cached(ctx, e, "summary", r.key(), func(ctx context.Context) (Summary, error) {
		sales, err := e.completedSales(ctx, r)
		if err != nil {
			return Summary{}, err
		}
		cancelled, err := e.reader.ListSales(ctx, r.filter(domain.SaleStatusCancelled))
		if err != nil {
			return Summary{}, err
		}

		var revenue, tax int64
		items := 0
		byMode := make(map[string]int64, 3)
		for _, sale := range sales {
			revenue += sale.TotalCents
			tax += sale.TaxCents
			items += len(sale.Items)
			byMode[string(sale.PaymentMode)] += sale.TotalCents
		}

		out := Summary{
			Revenue:           domain.Money(revenue),
			Transactions:      len(sales),
			AverageOrderValue: decimal.Zero,
			TaxCollected:      domain.Money(tax),
			ItemsSold:         items,
			ByPaymentMode:     make(map[string]decimal.Decimal, len(byMode)),
			Cancelled:         len(cancelled),
		}
		if len(sales) > 0 {
			out.AverageOrderValue = out.Revenue.Div(decimal.NewFromInt(int64(len(sales)))).Round(2)
		}
		for mode, cents := range byMode {
			out.ByPaymentMode[mode] = domain.Money(cents)
		}
		return out, nil
	})
}

type TrendPoint struct {
	Date         string          `json:"date"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

type RevenueTrend struct {
	Points   []TrendPoint    `json:"points"`
	Forecast decimal.Decimal `json:"forecast_next_day"`
	Slope    float64         `json:"slope"`
	Trend    string          `json:"trend"`
}

const (
	TrendIncreasing = "Increasing"
	TrendDecreasing = "Decreasing"
	TrendStable     = "Stable"
)

// RevenueTrend groups completed sales by UTC day. Only days with sales appear.
func (e *Engine) RevenueTrend(ctx context.Context, r Range) (RevenueTrend, error) {
	return cached(ctx, e, "trend", r.key(), func(ctx context.Context) (RevenueTrend, error) {
		sales, err := e.completedSales(ctx, r)
		if err != nil {
			return RevenueTrend{}, err
		}

		byDay := make(map[string]*TrendPoint)
		cents := make(map[string]int64)
		for _, sale := range sales {
			day := sale.CreatedAt.UTC().Format(time.DateOnly)
			point, ok := byDay[day]
			if !ok {
				point = &TrendPoint{Date: day}
				byDay[day] = point
			}
			point.Transactions++
			cents[day] += sale.TotalCents
		}

		days := make([]string, 0, len(byDay))
		for day := range byDay {
			days = append(days, day)
		}
		sort.Strings(days)

		out := RevenueTrend{Points: make([]TrendPoint, 0, len(days))}
		series := make([]decimal.Decimal, 0, len(days))
		for _, day := range days {
			point := byDay[day]
			point.Revenue = domain.Money(cents[day])
			out.Points = append(out.Points, *point)
			series = append(series, point.Revenue)
		}
		out.Forecast = Forecast(series, forecastWindow)
		out.Slope = Slope(series)
		out.Trend = TrendLabel(out.Slope)
		return out, nil
	})
}

// Forecast is a linearly weighted moving average over the last window values,
// the newest weighted highest. Shorter series fall back to the plain mean.
func Forecast(series []decimal.Decimal, window int) decimal.Decimal {
	if len(series) == 0 {
		return decimal.Zero
	}
	if len(series) < window {
		return decimal.Sum(series[0], series[1:]...).Div(decimal.NewFromInt(int64(len(series)))).Round(2)
	}
	recent := series[len(series)-window:]
	weighted := decimal.Zero
	var weights int64
	for i, v := range recent {
		w := int64(i + 1)
		weighted = weighted.Add(v.Mul(decimal.NewFromInt(w)))
		weights += w
	}
	return weighted.Div(decimal.NewFromInt(weights)).Round(2)
}

// Slope is the least-squares gradient of the series against its index.
func Slope(series []decimal.Decimal) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range series {
		x := float64(i)
		y := v.InexactFloat64()
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return math.Round(slope*10000) / 10000
}

func TrendLabel(slope float64) string {
	switch {
	case slope > trendSlopeCutoff:
		return TrendIncreasing
	case slope < -trendSlopeCutoff:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

type CategoryShare struct {
	Category string          `json:"category"`
	Revenue  decimal.Decimal `json:"revenue"`
	Units    int             `json:"units"`
}

// CategoryPerformance splits each sale's total equally across its units and
// credits every share to that unit's category.
func (e *Engine) CategoryPerformance(ctx context.Context, r Range) ([]CategoryShare, error) {
	return cached(ctx, e, "categories", r.key(), func(ctx context.Context) ([]CategoryShare, error) {
		sales, err := e.completedSales(ctx, r)
		if err != nil {
			return nil, err
		}
		index, _, err := e.productIndex(ctx)
		if err != nil {
			return nil, err
		}

		shares := make(map[string]*CategoryShare)
		for _, sale := range sales {
			if len(sale.Items) == 0 {
				continue
			}
			share := domain.Money(sale.TotalCents).Div(decimal.NewFromInt(int64(len(sale.Items))))
			for _, id := range sale.Items {
				category := unknownCategory
				if p, ok := index[id]; ok {
					category = p.Category
				}
				entry, ok := shares[category]
				if !ok {
					entry = &CategoryShare{Category: category, Revenue: decimal.Zero}
					shares[category] = entry
				}
				entry.Revenue = entry.Revenue.Add(share)
				entry.Units++
			}
		}

		out := make([]CategoryShare, 0, len(shares))
		for _, entry := range shares {
			entry.Revenue = entry.Revenue.Round(2)
			out = append(out, *entry)
		}
		sort.Slice(out, func(i, j int) bool {
			if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
				return c > 0
			}
			return out[i].Category < out[j].Category
		})
		return out, nil
	})
}

type ProfitLine struct {
	Category      string          `json:"category"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	Profit        decimal.Decimal `json:"profit"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type ProfitLoss struct {
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	Profit        decimal.Decimal `json:"profit"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	Categories    []ProfitLine    `json:"categories"`
}

// ProfitLoss values sold units at the current list price and cost price.
// Units whose product no longer exists are left out.
func (e *Engine) ProfitLoss(ctx context.Context, r Range) (ProfitLoss, error) {
	return cached(ctx, e, "profit-loss", r.key(), func(ctx context.Context) (ProfitLoss, error) {
		sales, err := e.completedSales(ctx, r)
		if err != nil {
			return ProfitLoss{}, err
		}
		index, _, err := e.productIndex(ctx)
		if err != nil {
			return ProfitLoss{}, err
		}

		type totals struct{ revenue, cost int64 }
		var overall totals
		byCategory := make(map[string]*totals)
		for _, sale := range sales {
			for _, id := range sale.Items {
				p, ok := index[id]
				if !ok {
					continue
				}
				overall.revenue += p.PriceCents
				overall.cost += p.CostCents
				t, ok := byCategory[p.Category]
				if !ok {
					t = &totals{}
					byCategory[p.Category] = t
				}
				t.revenue += p.PriceCents
				t.cost += p.CostCents
			}
		}

		out := profitLine("", overall.revenue, overall.cost)
		pl := ProfitLoss{
			Revenue:       out.Revenue,
			Cost:          out.Cost,
			Profit:        out.Profit,
			MarginPercent: out.MarginPercent,
			Categories:    make([]ProfitLine, 0, len(byCategory)),
		}
		for category, t := range byCategory {
			pl.Categories = append(pl.Categories, profitLine(category, t.revenue, t.cost))
		}
		sort.Slice(pl.Categories, func(i, j int) bool {
			if c := pl.Categories[i].Revenue.Cmp(pl.Categories[j].Revenue); c != 0 {
				return c > 0
			}
			return pl.Categories[i].Category < pl.Categories[j].Category
		})
		return pl, nil
	})
}

func profitLine(category string, revenueCents, costCents int64) ProfitLine {
	revenue := domain.Money(revenueCents)
	profit := domain.Money(revenueCents - costCents)
	margin := decimal.Zero
	if revenueCents > 0 {
		margin = profit.Div(revenue).Mul(hundred).Round(2)
	}
	return ProfitLine{
		Category:      category,
		Revenue:       revenue,
		Cost:          domain.Money(costCents),
		Profit:        profit,
		MarginPercent: margin,
	}
}

// WriteCSV renders the statement with one row per category and a closing
// total row.
func (pl ProfitLoss) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"Category", "Revenue", "Cost", "Profit", "Margin %"}}
	for _, line := range pl.Categories {
		rows = append(rows, csvRow(line.Category, line))
	}
	rows = append(rows, csvRow("TOTAL", ProfitLine{
		Revenue:       pl.Revenue,
		Cost:          pl.Cost,
		Profit:        pl.Profit,
		MarginPercent: pl.MarginPercent,
	}))
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func csvRow(label string, line ProfitLine) []string {
	return []string{
		label,
		line.Revenue.StringFixed(2),
		line.Cost.StringFixed(2),
		line.Profit.StringFixed(2),
		line.MarginPercent.StringFixed(2),
	}
}

const (
	RankTopSeller = "Top Seller"
	RankAverage   = "Average Performer"
	RankLow       = "Low Performer"
)

type ProductRank struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	QtySold   int             `json:"qty_sold"`
	Revenue   decimal.Decimal `json:"revenue"`
	Score     decimal.Decimal `json:"score"`
	Rank      string          `json:"rank"`
}

type ProductRanking struct {
	Products []ProductRank `json:"products"`
	High     []string      `json:"high_performers"`
	Low      []string      `json:"low_performers"`
	Stars    []string      `json:"star_products"`
}

var (
	qtyWeight     = decimal.NewFromInt(10)
	revenueWeight = decimal.New(1, -2)
)

// ProductRanking scores every catalog product by units sold and revenue at
// list price: score = qty*10 + revenue*0.01.
func (e *Engine) ProductRanking(ctx context.Context, r Range) (ProductRanking, error) {
	return cached(ctx, e, "products", r.key(), func(ctx context.Context) (ProductRanking, error) {
		sales, err := e.completedSales(ctx, r)
		if err != nil {
			return ProductRanking{}, err
		}
		_, products, err := e.productIndex(ctx)
		if err != nil {
			return ProductRanking{}, err
		}
		if len(sales) == 0 {
			return ProductRanking{Products: []ProductRank{}, High: []string{}, Low: []string{}, Stars: []string{}}, nil
		}

		counts := make(map[int64]int)
		for _, sale := range sales {
			for _, id := range sale.Items {
				counts[id]++
			}
		}

		ranks := make([]ProductRank, 0, len(products))
		for _, p := range products {
			qty := counts[p.ID]
			revenue := domain.Money(p.PriceCents * int64(qty))
			ranks = append(ranks, ProductRank{
				ProductID: p.ID,
				Name:      p.Name,
				QtySold:   qty,
				Revenue:   revenue,
				Score:     decimal.NewFromInt(int64(qty)).Mul(qtyWeight).Add(revenue.Mul(revenueWeight)).Round(2),
			})
		}
		sort.SliceStable(ranks, func(i, j int) bool {
			if c := ranks[i].Score.Cmp(ranks[j].Score); c != 0 {
				return c > 0
			}
			return ranks[i].ProductID < ranks[j].ProductID
		})
		for i := range ranks {
			switch {
			case i == 0:
				ranks[i].Rank = RankTopSeller
			case 2*i < len(ranks):
				ranks[i].Rank = RankAverage
			default:
				ranks[i].Rank = RankLow
			}
		}

		out := ProductRanking{Products: ranks}
		out.High = names(ranks[:min(5, len(ranks))])
		out.Low = names(ranks[max(0, len(ranks)-5):])

		byRevenue := make([]ProductRank, len(ranks))
		copy(byRevenue, ranks)
		sort.SliceStable(byRevenue, func(i, j int) bool {
			return byRevenue[i].Revenue.GreaterThan(byRevenue[j].Revenue)
		})
		out.Stars = names(byRevenue[:min(3, len(byRevenue))])
		return out, nil
	})
}

func names(ranks []ProductRank) []string {
	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Name)
	}
	return out
}

type InventoryMetric struct {
	ProductID            int64  `json:"product_id"`
	Name                 string `json:"name"`
	Category             string `json:"category"`
	Stock                int    `json:"stock"`
	SalesCount           int    `json:"sales_count"`
	AnnualDemandEstimate int    `json:"annual_demand_estimate"`
	DeadStock            bool   `json:"dead_stock"`
}

// InventoryMetrics projects yearly demand from the lifetime sales counter.
// Products that never sold get a floor of 10.
func (e *Engine) InventoryMetrics(ctx context.Context) ([]InventoryMetric, error) {
	return cached(ctx, e, "inventory", "all", func(ctx context.Context) ([]InventoryMetric, error) {
		products, err := e.reader.ListProducts(ctx, false)
		if err != nil {
			return nil, err
		}
		out := make([]InventoryMetric, 0, len(products))
		for _, p := range products {
			demand := 10
			if p.SalesCount > 0 {
				demand = p.SalesCount * 12
			}
			out = append(out, InventoryMetric{
				ProductID:            p.ID,
				Name:                 p.Name,
				Category:             p.Category,
				Stock:                p.Stock,
				SalesCount:           p.SalesCount,
				AnnualDemandEstimate: demand,
				DeadStock:            p.DeadStock,
			})
		}
		return out, nil
	})
}
