package auth

import (
	"sort"
	"strings"
)

// Access is the resolved authorization state of one actor. It is computed
// from already loaded data and never touches a collaborator.
type Access struct {
	ActorID        string
	OrganizationID string
	Permissions    PermissionSet
	// Global is set by any active "all" assignment.
	Global bool
	// PendingGroups are group names that still need a directory lookup.
	PendingGroups []string
	// NeedsHierarchy requests a subordinate walk rooted at the actor.
	NeedsHierarchy bool

	direct    map[string]struct{}
	delegated map[Action]map[string]struct{}
}

// Resolve folds the actor's active assignments into an Access. Permissions
// are OR-ed across assignments so a later assignment can never narrow what
// an earlier one granted.
func Resolve(actor Employee, assignments []Assignment) Access {
	acc := Access{
		ActorID:        actor.ID,
		OrganizationID: actor.OrganizationID,
		direct:         map[string]struct{}{actor.ID: {}},
	}
	groups := map[string]struct{}{}

	for _, a := range assignments {
		if !a.Active {
			continue
		}
		if a.Template != nil {
			acc.Permissions = acc.Permissions.Union(a.Template.Permissions)
		}
		if acc.Global {
			continue
		}
		switch a.Scope {
		case ScopeAll:
			acc.Global = true
		case ScopeSelf:
		case ScopeIndividuals:
			for _, id := range a.Individuals {
				if id = strings.TrimSpace(id); id != "" {
					acc.direct[id] = struct{}{}
				}
			}
		case ScopeGroup:
			for _, g := range a.Groups {
				if g = strings.TrimSpace(g); g != "" {
					groups[g] = struct{}{}
				}
			}
		case ScopeHierarchy:
			acc.NeedsHierarchy = true
		}
	}

	if acc.Global {
		acc.direct = map[string]struct{}{actor.ID: {}}
		acc.NeedsHierarchy = false
		return acc
	}
	for g := range groups {
		acc.PendingGroups = append(acc.PendingGroups, g)
	}
	sort.Strings(acc.PendingGroups)
	return acc
}

// Can reports whether the permission was granted by any active assignment.
func (a Access) Can(p Permission) bool {
	return a.Permissions.Has(p)
}

// CanAny reports whether at least one of perms was granted.
func (a Access) CanAny(perms ...Permission) bool {
	for _, p := range perms {
		if a.Can(p) {
			return true
		}
	}
	return false
}

// CanActFor is the fast-path check: self, a delegation for action, global,
// or a directly listed id. Group and hierarchy grants are not considered;
// use Expand for those. Role scopes never grant approving for someone else.
func (a Access) CanActFor(action Action, targetID string) bool {
	if targetID == a.ActorID || a.Delegated(action, targetID) {
		return true
	}
	if action == ActionApprove {
		return false
	}
	if a.Global {
		return true
	}
	_, ok := a.direct[targetID]
	return ok
}

// Accessible returns the directly accessible ids, or all=true for global access.
func (a Access) Accessible() (ids []string, all bool) {
	if a.Global {
		return nil, true
	}
	ids = make([]string, 0, len(a.direct))
	for id := range a.direct {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, false
}

// NeedsExpansion reports whether Expand could widen the direct set.
func (a Access) NeedsExpansion() bool {
	return !a.Global && (a.NeedsHierarchy || len(a.PendingGroups) > 0)
}
