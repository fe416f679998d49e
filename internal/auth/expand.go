package auth

import (
	"context"
	"fmt"
	"sort"
)

// Directory is the read-only employee directory needed to expand group and
// hierarchy grants.
type Directory interface {
	DirectReports(ctx context.Context, managerID string) ([]string, error)
	EmployeesInGroups(ctx context.Context, organizationID string, groups []string) ([]string, error)
}

// FailurePolicy names how a collaborator failure is resolved.
type FailurePolicy string

const (
	// FailClosed denies when the collaborator cannot answer.
	FailClosed FailurePolicy = "fail_closed"
	// FailOpen logs the failure and continues.
	FailOpen FailurePolicy = "fail_open"
)

// ExpansionFailurePolicy applies to group and hierarchy expansion: a directory
// outage yields no access rather than partial access.
const ExpansionFailurePolicy = FailClosed

// Expanded is the full set of employees an actor may act for.
type Expanded struct {
	All bool
	ids map[string]struct{}
}

// Contains reports whether id is accessible.
func (e Expanded) Contains(id string) bool {
	if e.All {
		return true
	}
	_, ok := e.ids[id]
	return ok
}

// IDs returns the accessible ids sorted; nil when All is set.
func (e Expanded) IDs() []string {
	if e.All {
		return nil
	}
	out := make([]string, 0, len(e.ids))
	for id := range e.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Expand returns everyone the actor may perform action for: role grants
// widened by group members and subordinates, plus delegators. Approval is
// only ever delegated. Any directory error fails the whole expansion.
func Expand(ctx context.Context, access Access, dir Directory, action Action) (Expanded, error) {
	out := Expanded{ids: map[string]struct{}{access.ActorID: {}}}
	for _, id := range access.DelegatedBy(action) {
		out.ids[id] = struct{}{}
	}
	if action == ActionApprove {
		return out, nil
	}
	if access.Global {
		return Expanded{All: true}, nil
	}
	direct, _ := access.Accessible()
	for _, id := range direct {
		out.ids[id] = struct{}{}
	}
	if !access.NeedsExpansion() {
		return out, nil
	}
	if dir == nil {
		return Expanded{}, fmt.Errorf("%w: no directory configured", ErrDirectoryUnavailable)
	}

	if len(access.PendingGroups) > 0 {
		members, err := dir.EmployeesInGroups(ctx, access.OrganizationID, access.PendingGroups)
		if err != nil {
			return Expanded{}, failExpansion("group lookup", err)
		}
		for _, id := range members {
			out.ids[id] = struct{}{}
		}
	}
	if access.NeedsHierarchy {
		subs, err := WalkSubordinates(ctx, access.ActorID, dir.DirectReports)
		if err != nil {
			return Expanded{}, failExpansion("hierarchy walk", err)
		}
		for _, id := range subs {
			out.ids[id] = struct{}{}
		}
	}
	return out, nil
}

func failExpansion(step string, err error) error {
	return fmt.Errorf("%w: %s (%s): %v", ErrDirectoryUnavailable, step, ExpansionFailurePolicy, err)
}

// CanActForExpanded runs the fast path first and falls back to a full
// expansion. On directory failure it denies and returns the error.
func CanActForExpanded(ctx context.Context, access Access, dir Directory, action Action, targetID string) (bool, error) {
	if access.CanActFor(action, targetID) {
		return true, nil
	}
	if action == ActionApprove || !access.NeedsExpansion() {
		return false, nil
	}
	expanded, err := Expand(ctx, access, dir, action)
	if err != nil {
		return false, err
	}
	return expanded.Contains(targetID), nil
}
