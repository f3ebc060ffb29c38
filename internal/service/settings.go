package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
)

// Settings returns the stored values layered over the defaults.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.settings(ctx)
}

func (s *Service) settings(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(domain.DefaultSettings))
	for k, v := range domain.DefaultSettings {
		values[k] = v
	}
	stored, err := s.repo.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	for _, setting := range stored {
		values[setting.Key] = setting.Value
	}
	return values, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (map[string]string, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if len(req.Values) == 0 {
		return nil, domain.NewValidation("values", "at least one setting is required")
	}

	clean := make(map[string]string, len(req.Values))
	keys := make([]string, 0, len(req.Values))
	for key, value := range req.Values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if _, known := domain.DefaultSettings[key]; !known {
			return nil, domain.NewValidation(key, "unknown setting")
		}
		if err := validateSetting(key, value); err != nil {
			return nil, err
		}
		clean[key] = value
		keys = append(keys, key)
	}
	if err := s.repo.PutSettings(ctx, clean); err != nil {
		return nil, err
	}

	sort.Strings(keys)
	s.logAudit(ctx, domain.AuditActionSettingsUpdated, "settings", "", strings.Join(keys, ","))
	return s.settings(ctx)
}

func validateSetting(key, value string) error {
	switch key {
	case domain.SettingStoreName, domain.SettingCurrencySymbol:
		if value == "" {
			return domain.NewValidation(key, "must not be empty")
		}
	case domain.SettingTaxRate:
		rate, err := decimal.NewFromString(value)
		if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			return domain.NewValidation(key, "must be a number between 0 and 100")
		}
	case domain.SettingGSTEnabled:
		if v := strings.ToLower(value); v != "true" && v != "false" {
			return domain.NewValidation(key, "must be true or false")
		}
	}
	return nil
}

func (s *Service) currencySymbol(ctx context.Context) string {
	values, err := s.settings(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("settings unavailable, using default currency symbol")
		return domain.DefaultSettings[domain.SettingCurrencySymbol]
	}
	return values[domain.SettingCurrencySymbol]
}
