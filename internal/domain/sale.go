package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMode string

const (
	PaymentCash PaymentMode = "Cash"
	PaymentUPI  PaymentMode = "UPI"
	PaymentCard PaymentMode = "Card"
)

var paymentModes = []PaymentMode{PaymentCash, PaymentUPI, PaymentCard}

func ParsePaymentMode(raw string) (PaymentMode, error) {
	raw = strings.TrimSpace(raw)
	for _, mode := range paymentModes {
		if strings.EqualFold(raw, string(mode)) {
			return mode, nil
		}
	}
	return "", NewValidation("payment_mode", "must be one of Cash, UPI, Card")
}

// GroupItems folds a flat cart into required quantity per product id.
// The returned ids are sorted ascending so lock order is deterministic.
func GroupItems(items []int64) (map[int64]int, []int64) {
	qty := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for _, id := range items {
		if _, seen := qty[id]; !seen {
			ids = append(ids, id)
		}
		qty[id]++
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return qty, ids
}

func EncodeItems(items []int64) (string, error) {
	if items == nil {
		items = []int64{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeItems(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return []int64{}, nil
	}
	var items []int64
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode sale items: %w", err)
	}
	return items, nil
}

// SaleIntegrityHash fingerprints the immutable part of a sale.
func SaleIntegrityHash(createdAt time.Time, totalCents int64, items []int64, operator, terminalID string) string {
	encoded, _ := EncodeItems(items)
	raw := fmt.Sprintf("%s|%d|%s|%s|%s", createdAt.UTC().Format(time.RFC3339Nano), totalCents, encoded, operator, terminalID)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LoyaltyPointsFor awards one point per 100.00 of the sale total.
func LoyaltyPointsFor(totalCents int64) int64 {
	if totalCents <= 0 {
		return 0
	}
	return totalCents / 10000
}

// Money converts minor units to a currency-unit decimal.
func Money(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func FormatMoney(symbol string, cents int64) string {
	return symbol + Money(cents).StringFixed(2)
}

var (
	phoneStripper = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
	emailPattern  = regexp.MustCompile(`^[\w.+-]+@[\w.-]+\.\w+$`)
)

// NormalizePhone canonicalises a customer phone reference. An optional leading
// plus is kept; everything else must be 8 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	cleaned := phoneStripper.Replace(strings.TrimSpace(raw))
	plus := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return "", NewValidation("customer_phone", "must contain 8 to 15 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", NewValidation("customer_phone", "must contain digits only")
		}
	}
	if plus {
		return "+" + digits, nil
	}
	return digits, nil
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
