package auth

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action is what an actor does on behalf of another employee.
type Action string

const (
	ActionBook    Action = "booking"
	ActionApprove Action = "approval"
	ActionView    Action = "view"
)

// DelegationType is the kind of right one employee hands to another.
type DelegationType string

const (
	DelegateBooking  DelegationType = "booking"
	DelegateApproval DelegationType = "approval"
	DelegateView     DelegationType = "view"
	DelegateFull     DelegationType = "full"
)

func (t DelegationType) Valid() bool {
	switch t {
	case DelegateBooking, DelegateApproval, DelegateView, DelegateFull:
		return true
	}
	return false
}

// Covers reports whether a delegation of type t lets the delegate perform
// action. Any delegation implies view.
func (t DelegationType) Covers(action Action) bool {
	switch action {
	case ActionBook:
		return t == DelegateBooking || t == DelegateFull
	case ActionApprove:
		return t == DelegateApproval || t == DelegateFull
	case ActionView:
		return t.Valid()
	}
	return false
}

// ParseDelegationType normalizes a delegation type; empty means booking.
func ParseDelegationType(raw string) (DelegationType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DelegateBooking, nil
	}
	t := DelegationType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unsupported delegation type %q", ErrInvalidInput, raw)
	}
	return t, nil
}

// Delegation lets DelegateID act for DelegatorID, for example an assistant
// booking travel for an executive or a deputy approving during leave.
// Revoked delegations keep their row with Active cleared.
type Delegation struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	DelegatorID    string         `json:"delegator_id"`
	DelegateID     string         `json:"delegate_id"`
	Type           DelegationType `json:"delegation_type"`
	StartsAt       *time.Time     `json:"starts_at,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Active         bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
}

// InEffect reports whether the delegation is active and now lies inside its
// optional window. Both bounds are inclusive.
func (d Delegation) InEffect(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	return true
}

func (d Delegation) Validate() error {
	if strings.TrimSpace(d.DelegatorID) == "" || strings.TrimSpace(d.DelegateID) == "" {
		return fmt.Errorf("%w: delegator_id and delegate_id are required", ErrInvalidInput)
	}
	if d.DelegatorID == d.DelegateID {
		return fmt.Errorf("%w: an employee cannot delegate to themselves", ErrInvalidInput)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unsupported delegation type %q", ErrInvalidInput, d.Type)
	}
	if d.StartsAt != nil && d.ExpiresAt != nil && !d.ExpiresAt.After(*d.StartsAt) {
		return fmt.Errorf("%w: expires_at must be after starts_at", ErrInvalidInput)
	}
	return nil
}

// WithDelegations returns a copy of a that also acts for the delegators of
// every delegation to the actor in effect at now.
func (a Access) WithDelegations(delegations []Delegation, now time.Time) Access {
	out := a
	out.delegated = make(map[Action]map[string]struct{})
	for action, set := range a.delegated {
		out.delegated[action] = copySet(set)
	}
	for _, d := range delegations {
		if d.DelegateID != a.ActorID || d.OrganizationID != a.OrganizationID || !d.InEffect(now) {
			continue
		}
		for _, action := range []Action{ActionBook, ActionApprove, ActionView} {
			if !d.Type.Covers(action) {
				continue
			}
			if out.delegated[action] == nil {
				out.delegated[action] = make(map[string]struct{})
			}
			out.delegated[action][d.DelegatorID] = struct{}{}
		}
	}
	return out
}

// Delegated reports whether targetID delegated action to the actor.
func (a Access) Delegated(action Action, targetID string) bool {
	_, ok := a.delegated[action][targetID]
	return ok
}

// DelegatedBy lists the employees that delegated action to the actor.
func (a Access) DelegatedBy(action Action) []string {
	out := make([]string, 0, len(a.delegated[action]))
	for id := range a.delegated[action] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
