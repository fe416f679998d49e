package auth

import (
	"fmt"
	"strings"
)

// AccessScope determines which other employees an assignment lets the holder act for.
type AccessScope string

const (
	ScopeSelf        AccessScope = "self"
	ScopeIndividuals AccessScope = "individuals"
	ScopeGroup       AccessScope = "group"
	ScopeHierarchy   AccessScope = "hierarchy"
	ScopeAll         AccessScope = "all"
)

// Valid reports whether s is one of the known scopes.
func (s AccessScope) Valid() bool {
	switch s {
	case ScopeSelf, ScopeIndividuals, ScopeGroup, ScopeHierarchy, ScopeAll:
		return true
	default:
		return false
	}
}

// ParseAccessScope normalizes and validates a scope name.
func ParseAccessScope(raw string) (AccessScope, error) {
	s := AccessScope(strings.TrimSpace(strings.ToLower(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unsupported access scope %q", ErrInvalidInput, raw)
	}
	return s, nil
}
