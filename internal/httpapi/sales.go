package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"possale/backend/internal/domain"
	"possale/backend/internal/service"
)

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	receipt, err := a.service.CommitSale(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if receipt.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, receipt)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SaleFilter{
		OperatorLike: strings.TrimSpace(q.Get("operator")),
		Date:         strings.TrimSpace(q.Get("date")),
		Status:       strings.TrimSpace(q.Get("status")),
		Limit:        parsePositiveLimit(q.Get("limit"), 200, 1000),
	}
	if raw := strings.TrimSpace(q.Get("id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeDomainError(w, domain.NewValidation("id", "must be a positive integer"))
			return
		}
		filter.ID = id
	}

	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// handleReceipt returns the receipt as JSON, or as a downloadable text file
// with ?format=text.
func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	receipt, err := a.service.BuildReceipt(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+receipt.FileName+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(receipt.PreviewText))
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	if !a.cancelLimiter.Allow(actor.Username + "@" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many cancellation attempts"))
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req domain.CancelSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	req.SaleID = id

	result, err := a.service.CancelSale(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
