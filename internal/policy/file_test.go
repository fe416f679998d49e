package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

const sampleFile = `
organizations:
  org-a:
    approval_mode: only_when_necessary
    max_amount: 1500
    min_advance_days: 3
    business_class_titles: [VP, Chief]
    denied_destinations:
      - Atlantis
  org-b:
    cost_ceiling_hard: true
`

func TestParseFileAppliesDefaults(t *testing.T) {
	src, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	a, err := src.PolicySettings(context.Background(), "org-a")
	if err != nil {
		t.Fatalf("org-a: %v", err)
	}
	if a.Mode != ModeOnlyWhenNecessary || !a.MaxAmount.Equal(decimal.NewFromInt(1500)) || a.MinAdvanceDays != 3 {
		t.Fatalf("org-a: unexpected %+v", a)
	}
	if !reflect.DeepEqual(a.BusinessClassTitles, []string{"VP", "Chief"}) || !reflect.DeepEqual(a.DeniedDestinations, []string{"Atlantis"}) {
		t.Fatalf("org-a: unexpected lists %+v", a)
	}

	b, err := src.PolicySettings(context.Background(), "org-b")
	if err != nil {
		t.Fatalf("org-b: %v", err)
	}
	if b.Mode != ModeAlwaysAsk || !b.CostCeilingHard || !b.MaxAmount.Equal(DefaultMaxAmount) {
		t.Fatalf("org-b: unexpected %+v", b)
	}

	if _, err := src.PolicySettings(context.Background(), "org-c"); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseFileRejectsMalformedEntries(t *testing.T) {
	cases := map[string]string{
		"negative amount": "organizations:\n  o:\n    max_amount: -5\n",
		"titles scalar":   "organizations:\n  o:\n    business_class_titles: CEO\n",
		"not yaml":        "organizations: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFile([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(sampleFile), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, err := src.PolicySettings(context.Background(), "org-a"); err != nil {
		t.Fatalf("org-a: %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

type fixedSource map[string]Settings

func (f fixedSource) PolicySettings(_ context.Context, org string) (Settings, error) {
	if s, ok := f[org]; ok {
		return s, nil
	}
	return Settings{}, ErrSettingsNotFound
}

func TestChainPrefersEarlierSources(t *testing.T) {
	override := DefaultSettings()
	override.MaxAmount = decimal.NewFromInt(10)
	stored := DefaultSettings()
	stored.MaxAmount = decimal.NewFromInt(20)

	var nilFile *FileSource
	chain := Chain{nilFile, fixedSource{"o1": override}, fixedSource{"o1": stored, "o2": stored}}

	s, err := chain.PolicySettings(context.Background(), "o1")
	if err != nil || !s.MaxAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("o1: got %+v, %v", s, err)
	}
	s, err = chain.PolicySettings(context.Background(), "o2")
	if err != nil || !s.MaxAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("o2: got %+v, %v", s, err)
	}
	if _, err := chain.PolicySettings(context.Background(), "o3"); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("o3: expected not found, got %v", err)
	}
}
