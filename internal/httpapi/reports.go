package httpapi

import (
	"net/http"
	"strings"

	"possale/backend/internal/report"
)

func reportRange(r *http.Request) (report.Range, error) {
	q := r.URL.Query()
	return report.ParseRange(strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to")))
}

func (a *API) handleSummaryReport(w http.ResponseWriter, r *http.Request) {
	rng, err := reportRange(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	summary, err := a.reports.Summary(r.Context(), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleTrendReport(w http.ResponseWriter, r *http.Request) {
	rng, err := reportRange(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	trend, err := a.reports.RevenueTrend(r.Context(), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (a *API) handleCategoryReport(w http.ResponseWriter, r *http.Request) {
	rng, err := reportRange(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	shares, err := a.reports.CategoryPerformance(r.Context(), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": shares})
}

func (a *API) handleProfitLossReport(w http.ResponseWriter, r *http.Request) {
	rng, err := reportRange(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	pl, err := a.reports.ProfitLoss(r.Context(), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="profit-loss.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := pl.WriteCSV(w); err != nil {
			a.logger.WithError(err).Warn("profit-loss csv write failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (a *API) handleProductReport(w http.ResponseWriter, r *http.Request) {
	rng, err := reportRange(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ranking, err := a.reports.ProductRanking(r.Context(), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (a *API) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	metrics, err := a.reports.InventoryMetrics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": metrics})
}
