package auth

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// CatalogVersion is bumped whenever a permission is added. Permissions are
// only ever appended so stored bitsets stay readable across versions.
const CatalogVersion = 1

// Permission is one capability from the fixed catalog.
type Permission uint8

const (
	PermBookFlights Permission = iota
	PermBookHotels
	PermBookGround
	PermBookOther
	PermEconomyClass
	PermPremiumEconomyClass
	PermBusinessClass
	PermFirstClass
	PermApproveTravel
	PermApproveExpenses
	PermOverridePolicy
	PermViewOwnBookings
	PermViewTeamBookings
	PermViewAllBookings
	PermViewAnalytics
	PermManagePolicies
	PermManageUsers
	PermManageRoles
	PermManageDestinations

	permissionCount
)

const (
	CategoryBooking        = "Booking"
	CategoryTravelClass    = "Travel Class"
	CategoryApprovals      = "Approvals"
	CategoryVisibility     = "Visibility"
	CategoryAdministration = "Administration"
)

type permissionInfo struct {
	key         string
	description string
	category    string
}

var catalog = [permissionCount]permissionInfo{
	PermBookFlights:         {"book_flights", "Can book flights", CategoryBooking},
	PermBookHotels:          {"book_hotels", "Can book hotels", CategoryBooking},
	PermBookGround:          {"book_ground", "Can book ground transport", CategoryBooking},
	PermBookOther:           {"book_other", "Can book other travel services", CategoryBooking},
	PermEconomyClass:        {"economy_class", "Eligible for economy class", CategoryTravelClass},
	PermPremiumEconomyClass: {"premium_economy_class", "Eligible for premium economy class", CategoryTravelClass},
	PermBusinessClass:       {"business_class", "Eligible for business class", CategoryTravelClass},
	PermFirstClass:          {"first_class", "Eligible for first class", CategoryTravelClass},
	PermApproveTravel:       {"approve_travel", "Can approve travel requests", CategoryApprovals},
	PermApproveExpenses:     {"approve_expenses", "Can approve expense reports", CategoryApprovals},
	PermOverridePolicy:      {"override_policy", "Can override policy violations", CategoryApprovals},
	PermViewOwnBookings:     {"view_own_bookings", "Can view own bookings", CategoryVisibility},
	PermViewTeamBookings:    {"view_team_bookings", "Can view team bookings", CategoryVisibility},
	PermViewAllBookings:     {"view_all_bookings", "Can view all org bookings", CategoryVisibility},
	PermViewAnalytics:       {"view_analytics", "Can view analytics dashboard", CategoryAdministration},
	PermManagePolicies:      {"manage_policies", "Can edit travel policies", CategoryAdministration},
	PermManageUsers:         {"manage_users", "Can manage employees", CategoryAdministration},
	PermManageRoles:         {"manage_roles", "Can create/edit role templates", CategoryAdministration},
	PermManageDestinations:  {"manage_destinations", "Can manage destinations", CategoryAdministration},
}

var byKey = func() map[string]Permission {
	m := make(map[string]Permission, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		m[catalog[p].key] = p
	}
	return m
}()

// Key returns the stable string key of the permission.
func (p Permission) Key() string {
	if p >= permissionCount {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return catalog[p].key
}

func (p Permission) String() string { return p.Key() }

// Description returns the human readable description.
func (p Permission) Description() string {
	if p >= permissionCount {
		return ""
	}
	return catalog[p].description
}

// Category returns the catalog category.
func (p Permission) Category() string {
	if p >= permissionCount {
		return ""
	}
	return catalog[p].category
}

// ParsePermission resolves a permission key.
func ParsePermission(key string) (Permission, bool) {
	p, ok := byKey[strings.TrimSpace(strings.ToLower(key))]
	return p, ok
}

// AllPermissions lists the catalog in declaration order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out = append(out, p)
	}
	return out
}

// PermissionSet is a bitset over the catalog.
type PermissionSet uint64

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	return s.With(perms...)
}

// AllPermissionSet grants the whole catalog.
func AllPermissionSet() PermissionSet {
	return PermissionSet(1<<permissionCount - 1)
}

// With returns the set with perms added. Unknown values are ignored.
func (s PermissionSet) With(perms ...Permission) PermissionSet {
	for _, p := range perms {
		if p < permissionCount {
			s |= 1 << p
		}
	}
	return s
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	return p < permissionCount && s&(1<<p) != 0
}

// Union merges two grants. A grant can only widen the set.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	return s | other
}

// Contains reports whether every permission of other is also in s.
func (s PermissionSet) Contains(other PermissionSet) bool {
	return s&other == other
}

// Len returns the number of granted permissions.
func (s PermissionSet) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Keys returns the granted keys, sorted.
func (s PermissionSet) Keys() []string {
	keys := make([]string, 0, s.Len())
	for p := Permission(0); p < permissionCount; p++ {
		if s.Has(p) {
			keys = append(keys, p.Key())
		}
	}
	sort.Strings(keys)
	return keys
}

// Map renders the full catalog as key -> granted.
func (s PermissionSet) Map() map[string]bool {
	out := make(map[string]bool, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out[p.Key()] = s.Has(p)
	}
	return out
}

// PermissionSetFromMap converts a key -> bool document. Only true values are
// granted; unknown keys are rejected.
func PermissionSetFromMap(m map[string]bool) (PermissionSet, error) {
	var (
		s       PermissionSet
		unknown []string
	)
	for key, granted := range m {
		p, ok := ParsePermission(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if granted {
			s = s.With(p)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return 0, fmt.Errorf("%w: invalid permissions: %s", ErrInvalidInput, strings.Join(unknown, ", "))
	}
	return s, nil
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := PermissionSetFromMap(m)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
