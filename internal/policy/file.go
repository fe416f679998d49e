package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileSource serves per-organization settings from a YAML document:
//
//	organizations:
//	  01J0DEMO0RG000000000000000:
//	    approval_mode: only_when_necessary
//	    max_amount: 1500
//	    denied_destinations: [Atlantis]
//
// Keys follow the stored policy document; anything omitted keeps its default.
type FileSource struct {
	orgs map[string]Settings
}

type fileDoc struct {
	Organizations map[string]map[string]any `yaml:"organizations"`
}

// LoadFile reads and validates a policy file.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile validates every organization entry up front so a bad file fails
// at startup rather than on the first submission.
func ParseFile(data []byte) (*FileSource, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse file: %w", err)
	}
	src := &FileSource{orgs: make(map[string]Settings, len(doc.Organizations))}
	for org, raw := range doc.Organizations {
		org = strings.TrimSpace(org)
		mode, _ := raw["approval_mode"].(string)
		s, err := ParseSettings(mode, raw)
		if err != nil {
			return nil, fmt.Errorf("organization %s: %w", org, err)
		}
		src.orgs[org] = s
	}
	return src, nil
}

func (f *FileSource) PolicySettings(_ context.Context, organizationID string) (Settings, error) {
	if f == nil {
		return Settings{}, ErrSettingsNotFound
	}
	s, ok := f.orgs[organizationID]
	if !ok {
		return Settings{}, ErrSettingsNotFound
	}
	s.BusinessClassTitles = append([]string(nil), s.BusinessClassTitles...)
	s.DeniedDestinations = append([]string(nil), s.DeniedDestinations...)
	return s, nil
}

// Chain asks each source in turn and returns the first settings found.
// Nil sources are skipped.
type Chain []SettingsSource

func (c Chain) PolicySettings(ctx context.Context, organizationID string) (Settings, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		s, err := src.PolicySettings(ctx, organizationID)
		if errors.Is(err, ErrSettingsNotFound) {
			continue
		}
		return s, err
	}
	return Settings{}, ErrSettingsNotFound
}
