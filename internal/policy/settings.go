package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ApprovalMode controls whether clean bookings still need a manager.
type ApprovalMode string

const (
	ModeAlwaysAsk         ApprovalMode = "always_ask"
	ModeOnlyWhenNecessary ApprovalMode = "only_when_necessary"
)

const DefaultMinAdvanceDays = 7

// DefaultMaxAmount is the per-booking cost ceiling in booking currency.
var DefaultMaxAmount = decimal.NewFromInt(1000)

// DefaultBusinessClassTitles are the job title fragments eligible for
// business and first class when an organization does not configure any.
var DefaultBusinessClassTitles = []string{"CEO", "CTO", "CFO", "Director"}

// ErrSettingsNotFound is returned by a SettingsSource for unknown organizations.
var ErrSettingsNotFound = errors.New("policy: organization settings not found")

// Settings is an organization's travel policy.
type Settings struct {
	Mode                ApprovalMode    `json:"approval_mode"`
	MaxAmount           decimal.Decimal `json:"max_amount"`
	CostCeilingHard     bool            `json:"cost_ceiling_hard"`
	MinAdvanceDays      int             `json:"min_advance_days"`
	BusinessClassTitles []string        `json:"business_class_titles"`
	DeniedDestinations  []string        `json:"denied_destinations,omitempty"`
}

// DefaultSettings applies when an organization has no stored policy.
func DefaultSettings() Settings {
	return Settings{
		Mode:                ModeAlwaysAsk,
		MaxAmount:           DefaultMaxAmount,
		MinAdvanceDays:      DefaultMinAdvanceDays,
		BusinessClassTitles: append([]string(nil), DefaultBusinessClassTitles...),
	}
}

// SettingsSource loads an organization's policy.
type SettingsSource interface {
	PolicySettings(ctx context.Context, organizationID string) (Settings, error)
}

// Load fetches settings from src, falling back to DefaultSettings when the
// organization has none stored.
func Load(ctx context.Context, src SettingsSource, organizationID string) (Settings, error) {
	if src == nil {
		return DefaultSettings(), nil
	}
	s, err := src.PolicySettings(ctx, organizationID)
	if errors.Is(err, ErrSettingsNotFound) {
		// Orgs without stored settings are still evaluated against the
		// defaults rather than skipping the rules and always asking.
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load policy settings: %w", err)
	}
	return s, nil
}

// ParseMode normalizes an approval mode; unknown or empty values become always_ask.
func ParseMode(raw string) ApprovalMode {
	if ApprovalMode(strings.ToLower(strings.TrimSpace(raw))) == ModeOnlyWhenNecessary {
		return ModeOnlyWhenNecessary
	}
	return ModeAlwaysAsk
}

// ParseSettings builds Settings from a stored policy document. Missing keys
// keep their defaults and malformed values are rejected.
func ParseSettings(mode string, doc map[string]any) (Settings, error) {
	s := DefaultSettings()
	s.Mode = ParseMode(mode)
	if doc == nil {
		return s, nil
	}
	if v, ok := doc["max_amount"]; ok && v != nil {
		n, ok := amount(v)
		if !ok {
			return Settings{}, fmt.Errorf("policy: invalid max_amount %v", v)
		}
		s.MaxAmount = n
	}
	if v, ok := doc["min_advance_days"]; ok && v != nil {
		n, ok := amount(v)
		if !ok {
			return Settings{}, fmt.Errorf("policy: invalid min_advance_days %v", v)
		}
		s.MinAdvanceDays = int(n.IntPart())
	}
	if v, ok := doc["cost_ceiling_hard"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Settings{}, fmt.Errorf("policy: invalid cost_ceiling_hard %v", v)
		}
		s.CostCeilingHard = b
	}
	if v, ok := doc["business_class_titles"]; ok && v != nil {
		titles, err := stringList(v)
		if err != nil {
			return Settings{}, fmt.Errorf("policy: business_class_titles: %w", err)
		}
		s.BusinessClassTitles = titles
	}
	if v, ok := doc["denied_destinations"]; ok && v != nil {
		denied, err := stringList(v)
		if err != nil {
			return Settings{}, fmt.Errorf("policy: denied_destinations: %w", err)
		}
		s.DeniedDestinations = denied
	}
	return s, nil
}

// amount reads a non-negative number from a decoded JSON or YAML document.
func amount(v any) (decimal.Decimal, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch n := v.(type) {
	case float64:
		d = decimal.NewFromFloat(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	case uint64:
		d = decimal.NewFromUint64(n)
	case json.Number:
		d, err = decimal.NewFromString(n.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(n))
	default:
		return decimal.Decimal{}, false
	}
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}
