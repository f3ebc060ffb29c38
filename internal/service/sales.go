package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
	"possale/backend/internal/xid"
)

const (
	defaultSalesLimit = 200
	maxSalesLimit     = 1000
	minCancelReason   = 3
)

// CommitSale records a sale and everything that follows from it in one
// storage transaction: stock and sales counters, the sale row, the customer
// ledger and the audit entry. Nothing is written unless every line passes.
func (s *Service) CommitSale(ctx context.Context, req domain.SaleRequest) (domain.SaleReceipt, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	if len(req.Items) == 0 {
		return domain.SaleReceipt{}, domain.NewValidation("items", "cart is empty")
	}
	for _, id := range req.Items {
		if id <= 0 {
			return domain.SaleReceipt{}, domain.NewValidation("items", "product ids must be positive")
		}
	}
	mode, err := domain.ParsePaymentMode(req.PaymentMode)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	terminal := strings.TrimSpace(req.TerminalID)
	if terminal == "" {
		return domain.SaleReceipt{}, domain.NewValidation("terminal_id", "is required")
	}
	if req.TaxCents < 0 {
		return domain.SaleReceipt{}, domain.NewValidation("tax_cents", "must not be negative")
	}
	phone := ""
	if strings.TrimSpace(req.CustomerPhone) != "" {
		if phone, err = domain.NormalizePhone(req.CustomerPhone); err != nil {
			return domain.SaleReceipt{}, err
		}
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" && !xid.ValidKey(key) {
		return domain.SaleReceipt{}, domain.NewValidation("idempotency_key", "must be a UUID")
	}

	qty, ids := domain.GroupItems(req.Items)
	symbol := s.currencySymbol(ctx)
	now := s.now()

	var receipt domain.SaleReceipt
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if key != "" {
			existing, err := tx.FindSaleByIdempotencyKey(ctx, key)
			if err == nil {
				if (!actor.IsAdmin() && existing.Operator != actor.Username) || !sameCart(existing.Items, req.Items) {
					return fmt.Errorf("idempotency key %s was used for a different sale: %w", key, domain.ErrConflict)
				}
				receipt = domain.SaleReceipt{Sale: *existing, Duplicate: true}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		var subtotal int64
		for _, id := range ids {
			product, ok := products[id]
			if !ok || !product.Active {
				return domain.NewNotFound("product", id)
			}
			if product.Stock < qty[id] {
				return &domain.StockError{
					ProductID: id,
					Name:      product.Name,
					Available: product.Stock,
					Required:  qty[id],
				}
			}
			subtotal += product.PriceCents * int64(qty[id])
		}
		for _, id := range ids {
			if err := tx.AdjustProduct(ctx, id, -qty[id], qty[id]); err != nil {
				return err
			}
		}

		total := subtotal + req.TaxCents
		sale := domain.Sale{
			CreatedAt:      now,
			Items:          slices.Clone(req.Items),
			SubtotalCents:  subtotal,
			TaxCents:       req.TaxCents,
			TotalCents:     total,
			PaymentMode:    mode,
			Operator:       actor.Username,
			TerminalID:     terminal,
			CustomerPhone:  phone,
			Status:         domain.SaleStatusCompleted,
			IntegrityHash:  domain.SaleIntegrityHash(now, total, req.Items, actor.Username, terminal),
			IdempotencyKey: key,
		}
		if sale.ID, err = tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		if phone != "" {
			customer, created, err := tx.UpsertCustomer(ctx, phone, now)
			if err != nil {
				return err
			}
			customer.TotalSpendCents += total
			customer.Visits++
			customer.LoyaltyPoints += domain.LoyaltyPointsFor(total)
			customer.Segment = s.segments.Classify(customer.TotalSpendCents, customer.Visits)
			customer.UpdatedAt = now
			if err := tx.SaveCustomerAggregates(ctx, *customer); err != nil {
				return err
			}
			receipt.CustomerCreated = created
		}

		if err := tx.AppendAuditLog(ctx, domain.AuditLog{
			Actor:      actor.Username,
			ActorRole:  actor.Role,
			Action:     domain.AuditActionSaleCompleted,
			EntityType: "sale",
			EntityID:   strconv.FormatInt(sale.ID, 10),
			Detail:     fmt.Sprintf("Sale #%d. Value: %s. Items: %d", sale.ID, domain.FormatMoney(symbol, total), len(sale.Items)),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		receipt.Sale = sale
		return nil
	})
	if err != nil {
		return domain.SaleReceipt{}, s.txFailure("commit sale", err)
	}

	if !receipt.Duplicate {
		s.invalidateReports(ctx)
		s.logger.WithFields(log.Fields{
			"sale_id":  receipt.Sale.ID,
			"operator": actor.Username,
			"total":    receipt.Sale.TotalCents,
		}).Info("sale committed")
	}
	return receipt, nil
}

// CancelSale reverses a completed sale. The requesting user re-enters their
// password; operators may only cancel their own sales.
func (s *Service) CancelSale(ctx context.Context, req domain.CancelSaleRequest) (domain.CancelSaleResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CancelSaleResult{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(reason) < minCancelReason {
		return domain.CancelSaleResult{}, domain.NewValidation("reason", fmt.Sprintf("must be at least %d characters", minCancelReason))
	}
	if err := s.accounts.VerifyCredential(ctx, actor.Username, req.Credential); err != nil {
		return domain.CancelSaleResult{}, err
	}

	symbol := s.currencySymbol(ctx)
	now := s.now()

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, req.SaleID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("sale", req.SaleID)
		}
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCompleted {
			return &domain.StateError{Reason: "already cancelled"}
		}
		if !actor.IsAdmin() && sale.Operator != actor.Username {
			return &domain.AuthError{Reason: "permission denied: operators may cancel only their own sales"}
		}

		for _, id := range sale.Items {
			err := tx.AdjustProduct(ctx, id, 1, -1)
			if errors.Is(err, store.ErrNotFound) {
				s.logger.WithFields(log.Fields{"sale_id": sale.ID, "product_id": id}).
					Warn("product no longer exists, stock not restored")
				continue
			}
			if err != nil {
				return err
			}
		}

		if sale.CustomerPhone != "" {
			if err := s.reverseCustomer(ctx, tx, sale, now); err != nil {
				return err
			}
		}

		err = tx.MarkSaleCancelled(ctx, sale.ID, domain.Cancellation{
			Reason:      reason,
			CancelledBy: actor.Username,
			CancelledAt: now,
		})
		if errors.Is(err, store.ErrInvalidState) {
			return &domain.StateError{Reason: "already cancelled"}
		}
		if err != nil {
			return err
		}

		return tx.AppendAuditLog(ctx, domain.AuditLog{
			Actor:      actor.Username,
			ActorRole:  actor.Role,
			Action:     domain.AuditActionUndoSale,
			EntityType: "sale",
			EntityID:   strconv.FormatInt(sale.ID, 10),
			Detail:     fmt.Sprintf("Cancelled Sale #%d. Value: %s. Reason: %s", sale.ID, domain.FormatMoney(symbol, sale.TotalCents), reason),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.CancelSaleResult{}, s.txFailure("cancel sale", err)
	}

	s.invalidateReports(ctx)
	s.logger.WithFields(log.Fields{"sale_id": req.SaleID, "cancelled_by": actor.Username}).Info("sale cancelled")
	return domain.CancelSaleResult{
		SaleID:      req.SaleID,
		Status:      domain.SaleStatusCancelled,
		Message:     "Success. Order cancelled.",
		CancelledAt: now,
	}, nil
}

func (s *Service) reverseCustomer(ctx context.Context, tx store.Tx, sale *domain.Sale, now time.Time) error {
	customer, err := tx.LockCustomer(ctx, sale.CustomerPhone)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.WithFields(log.Fields{"sale_id": sale.ID, "phone": sale.CustomerPhone}).
			Warn("customer record missing, ledger not reversed")
		return nil
	}
	if err != nil {
		return err
	}

	customer.TotalSpendCents = max(customer.TotalSpendCents-sale.TotalCents, 0)
	customer.LoyaltyPoints = max(customer.LoyaltyPoints-domain.LoyaltyPointsFor(sale.TotalCents), 0)
	if s.cancelDecrementsVisits {
		customer.Visits = max(customer.Visits-1, 0)
	}
	customer.Segment = s.segments.Classify(customer.TotalSpendCents, customer.Visits)
	customer.UpdatedAt = now
	return tx.SaveCustomerAggregates(ctx, *customer)
}

// sameCart compares two flat item lists ignoring order.
func sameCart(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, domain.NewNotFound("sale", id)
	}
	if err != nil {
		return domain.Sale{}, err
	}
	if !actor.IsAdmin() && sale.Operator != actor.Username {
		return domain.Sale{}, &domain.AuthError{Reason: "permission denied: operators may view only their own sales"}
	}
	return *sale, nil
}

// ListSales returns sales newest first. Operators are always limited to their
// own sales whatever the filter says.
func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		filter.Operator = actor.Username
		filter.OperatorLike = ""
	}

	if filter.Date != "" {
		day, err := time.ParseInLocation(time.DateOnly, filter.Date, time.UTC)
		if err != nil {
			return nil, domain.NewValidation("date", "must be YYYY-MM-DD")
		}
		next := day.AddDate(0, 0, 1)
		filter.From, filter.To = &day, &next
		filter.Date = ""
	}
	switch filter.Status {
	case "", domain.SaleStatusCompleted, domain.SaleStatusCancelled:
	default:
		return nil, domain.NewValidation("status", "must be Completed or Cancelled")
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, domain.NewValidation("to", "must be after from")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultSalesLimit
	}
	filter.Limit = min(filter.Limit, maxSalesLimit)

	return s.repo.ListSales(ctx, filter)
}

// BuildReceipt renders a plain-text receipt for a stored sale. Item lines are
// priced from the current catalog, totals come from the sale row.
func (s *Service) BuildReceipt(ctx context.Context, id int64) (domain.ReceiptResponse, error) {
	sale, err := s.GetSale(ctx, id)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	settings, err := s.settings(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	symbol := settings[domain.SettingCurrencySymbol]

	lines := []string{
		settings[domain.SettingStoreName],
		"========================",
		fmt.Sprintf("Sale #%d", sale.ID),
		"Terminal: " + sale.TerminalID,
		"Operator: " + sale.Operator,
		"Date: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if sale.CustomerPhone != "" {
		lines = append(lines, "Customer: "+sale.CustomerPhone)
	}
	lines = append(lines, "------------------------")

	qty, ids := domain.GroupItems(sale.Items)
	for _, pid := range ids {
		name := fmt.Sprintf("Product #%d", pid)
		var lineTotal string
		if product, err := s.repo.GetProduct(ctx, pid); err == nil {
			name = product.Name
			lineTotal = domain.FormatMoney(symbol, product.PriceCents*int64(qty[pid]))
		}
		lines = append(lines, fmt.Sprintf("%s x%d", name, qty[pid]))
		if lineTotal != "" {
			lines = append(lines, "  "+lineTotal)
		}
	}
	lines = append(lines,
		"------------------------",
		"Subtotal : "+domain.FormatMoney(symbol, sale.SubtotalCents),
		"Tax      : "+domain.FormatMoney(symbol, sale.TaxCents),
		"Total    : "+domain.FormatMoney(symbol, sale.TotalCents),
		"Payment  : "+string(sale.PaymentMode),
	)
	if sale.Status == domain.SaleStatusCancelled {
		lines = append(lines, "*** CANCELLED ***")
		if sale.CancellationReason != "" {
			lines = append(lines, "Reason: "+sale.CancellationReason)
		}
	}
	lines = append(lines,
		"========================",
		"Hash: "+sale.IntegrityHash,
		"Thank you",
		"",
	)

	return domain.ReceiptResponse{
		SaleID:      sale.ID,
		PreviewText: strings.Join(lines, "\n"),
		FileName:    fmt.Sprintf("receipt-%d.txt", sale.ID),
	}, nil
}
