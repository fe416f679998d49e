package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoleService manages role templates and assignments inside the caller's
// organization and loads principals for authenticated requests.
type RoleService struct {
	store     RoleStore
	employees EmployeeLookup
	now       func() time.Time
}

func NewRoleService(store RoleStore, employees EmployeeLookup) (*RoleService, error) {
	if store == nil {
		return nil, errors.New("role store is required")
	}
	if employees == nil {
		return nil, errors.New("employee lookup is required")
	}
	return &RoleService{store: store, employees: employees, now: time.Now}, nil
}

// CreateTemplateInput describes a custom role template.
type CreateTemplateInput struct {
	Name         string
	Description  string
	Permissions  map[string]bool
	DefaultScope string
}

// PermissionGroup is one category of the permission catalog.
type PermissionGroup struct {
	Category    string           `json:"category"`
	Permissions []PermissionInfo `json:"permissions"`
}

// PermissionInfo describes one catalog entry.
type PermissionInfo struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// PermissionCatalog returns the catalog grouped by category in declaration order.
func PermissionCatalog() []PermissionGroup {
	var groups []PermissionGroup
	index := map[string]int{}
	for _, p := range AllPermissions() {
		i, ok := index[p.Category()]
		if !ok {
			i = len(groups)
			index[p.Category()] = i
			groups = append(groups, PermissionGroup{Category: p.Category()})
		}
		groups[i].Permissions = append(groups[i].Permissions, PermissionInfo{Key: p.Key(), Description: p.Description()})
	}
	return groups
}

func requireManageRoles(p Principal) error {
	if !p.Access.Can(PermManageRoles) {
		return fmt.Errorf("%w: manage_roles required", ErrForbidden)
	}
	return nil
}

func (s *RoleService) ListTemplates(ctx context.Context, p Principal) ([]RoleTemplate, error) {
	return s.store.ListTemplates(ctx, p.Employee.OrganizationID)
}

func (s *RoleService) GetTemplate(ctx context.Context, p Principal, templateID string) (RoleTemplate, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return RoleTemplate{}, fmt.Errorf("%w: template_id is required", ErrInvalidInput)
	}
	return s.store.GetTemplate(ctx, p.Employee.OrganizationID, templateID)
}

func (s *RoleService) CreateTemplate(ctx context.Context, p Principal, in CreateTemplateInput) (RoleTemplate, error) {
	if err := requireManageRoles(p); err != nil {
		return RoleTemplate{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return RoleTemplate{}, fmt.Errorf("%w: template name is required", ErrInvalidInput)
	}
	perms, err := PermissionSetFromMap(in.Permissions)
	if err != nil {
		return RoleTemplate{}, err
	}
	scope := ScopeSelf
	if strings.TrimSpace(in.DefaultScope) != "" {
		if scope, err = ParseAccessScope(in.DefaultScope); err != nil {
			return RoleTemplate{}, err
		}
	}
	return s.store.CreateTemplate(ctx, RoleTemplate{
		OrganizationID: p.Employee.OrganizationID,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Permissions:    perms,
		DefaultScope:   scope,
	})
}

func (s *RoleService) UpdateTemplate(ctx context.Context, p Principal, templateID string, upd TemplateUpdate) (RoleTemplate, error) {
	if err := requireManageRoles(p); err != nil {
		return RoleTemplate{}, err
	}
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return RoleTemplate{}, fmt.Errorf("%w: template_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return RoleTemplate{}, fmt.Errorf("%w: template name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.DefaultScope != nil && !upd.DefaultScope.Valid() {
		return RoleTemplate{}, fmt.Errorf("%w: unsupported access scope %q", ErrInvalidInput, *upd.DefaultScope)
	}
	return s.store.UpdateTemplate(ctx, p.Employee.OrganizationID, templateID, upd)
}

// DeleteTemplate removes a custom template. System templates are immutable.
func (s *RoleService) DeleteTemplate(ctx context.Context, p Principal, templateID string) error {
	if err := requireManageRoles(p); err != nil {
		return err
	}
	tpl, err := s.GetTemplate(ctx, p, templateID)
	if err != nil {
		return err
	}
	if tpl.IsSystem {
		return fmt.Errorf("%w: cannot delete system role templates", ErrInvalidInput)
	}
	return s.store.DeleteTemplate(ctx, p.Employee.OrganizationID, tpl.ID)
}

// AssignInput describes a new assignment. An empty Scope uses the
// template's default scope.
type AssignInput struct {
	EmployeeID  string
	TemplateID  string
	Scope       string
	Individuals []string
	Groups      []string
}

func (s *RoleService) Assign(ctx context.Context, p Principal, in AssignInput) (Assignment, error) {
	if err := requireManageRoles(p); err != nil {
		return Assignment{}, err
	}
	tpl, err := s.GetTemplate(ctx, p, in.TemplateID)
	if err != nil {
		return Assignment{}, err
	}
	emp, err := s.orgEmployee(ctx, p, in.EmployeeID)
	if err != nil {
		return Assignment{}, err
	}
	scope := tpl.DefaultScope
	if strings.TrimSpace(in.Scope) != "" {
		if scope, err = ParseAccessScope(in.Scope); err != nil {
			return Assignment{}, err
		}
	}
	a := Assignment{
		EmployeeID:  emp.ID,
		TemplateID:  tpl.ID,
		Scope:       scope,
		Individuals: dedupe(in.Individuals),
		Groups:      dedupe(in.Groups),
		Active:      true,
	}
	if err := a.Validate(); err != nil {
		return Assignment{}, err
	}
	return s.store.CreateAssignment(ctx, a)
}

func (s *RoleService) RemoveAssignment(ctx context.Context, p Principal, assignmentID string) error {
	if err := requireManageRoles(p); err != nil {
		return err
	}
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" {
		return fmt.Errorf("%w: assignment_id is required", ErrInvalidInput)
	}
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	// Assignments of other organizations are reported as missing.
	if _, err := s.orgEmployee(ctx, p, a.EmployeeID); err != nil {
		return fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	return s.store.DeleteAssignment(ctx, assignmentID)
}

// EmployeeRoles lists every assignment of an employee in the caller's organization.
func (s *RoleService) EmployeeRoles(ctx context.Context, p Principal, employeeID string) ([]Assignment, error) {
	emp, err := s.orgEmployee(ctx, p, employeeID)
	if err != nil {
		return nil, err
	}
	if emp.ID != p.Employee.ID && !p.Access.Can(PermManageRoles) {
		return nil, fmt.Errorf("%w: manage_roles required", ErrForbidden)
	}
	return s.store.ListAssignments(ctx, emp.ID, false)
}

// LoadPrincipal resolves the access of an active employee.
func (s *RoleService) LoadPrincipal(ctx context.Context, employeeID string) (Principal, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return Principal{}, fmt.Errorf("%w: employee_id is required", ErrInvalidInput)
	}
	emp, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return Principal{}, err
	}
	if !emp.Active {
		return Principal{}, fmt.Errorf("%w: employee %s is inactive", ErrForbidden, emp.ID)
	}
	assignments, err := s.store.ListAssignments(ctx, emp.ID, true)
	if err != nil {
		return Principal{}, fmt.Errorf("list assignments: %w", err)
	}
	delegations, err := s.store.ListDelegations(ctx, emp.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("list delegations: %w", err)
	}
	access := Resolve(emp, assignments).WithDelegations(delegations, s.now())
	return Principal{Employee: emp, Access: access}, nil
}

// DelegateInput describes a new delegation. An empty DelegatorID means the
// caller delegates their own rights.
type DelegateInput struct {
	DelegatorID string
	DelegateID  string
	Type        string
	StartsAt    *time.Time
	ExpiresAt   *time.Time
}

// Delegate records a delegation between two active employees of the
// caller's organization. Delegating on someone else's behalf needs manage_roles.
func (s *RoleService) Delegate(ctx context.Context, p Principal, in DelegateInput) (Delegation, error) {
	delegatorID := strings.TrimSpace(in.DelegatorID)
	if delegatorID == "" {
		delegatorID = p.Employee.ID
	}
	if delegatorID != p.Employee.ID {
		if err := requireManageRoles(p); err != nil {
			return Delegation{}, err
		}
	}
	typ, err := ParseDelegationType(in.Type)
	if err != nil {
		return Delegation{}, err
	}
	d := Delegation{
		OrganizationID: p.Employee.OrganizationID,
		DelegatorID:    delegatorID,
		DelegateID:     strings.TrimSpace(in.DelegateID),
		Type:           typ,
		StartsAt:       utcPtr(in.StartsAt),
		ExpiresAt:      utcPtr(in.ExpiresAt),
		Active:         true,
	}
	if err := d.Validate(); err != nil {
		return Delegation{}, err
	}
	for _, id := range []string{d.DelegatorID, d.DelegateID} {
		emp, err := s.orgEmployee(ctx, p, id)
		if err != nil {
			return Delegation{}, err
		}
		if !emp.Active {
			return Delegation{}, fmt.Errorf("%w: employee %s is inactive", ErrInvalidInput, emp.ID)
		}
	}
	return s.store.CreateDelegation(ctx, d)
}

// RevokeDelegation deactivates a delegation. The delegator, the delegate and
// role managers may revoke.
func (s *RoleService) RevokeDelegation(ctx context.Context, p Principal, delegationID string) error {
	delegationID = strings.TrimSpace(delegationID)
	if delegationID == "" {
		return fmt.Errorf("%w: delegation_id is required", ErrInvalidInput)
	}
	d, err := s.store.GetDelegation(ctx, delegationID)
	if err != nil {
		return err
	}
	if d.OrganizationID != p.Employee.OrganizationID {
		return fmt.Errorf("%w: delegation %s", ErrNotFound, delegationID)
	}
	if d.DelegatorID != p.Employee.ID && d.DelegateID != p.Employee.ID {
		if err := requireManageRoles(p); err != nil {
			return err
		}
	}
	return s.store.RevokeDelegation(ctx, d.ID)
}

// Delegations lists delegations given or received by an employee.
func (s *RoleService) Delegations(ctx context.Context, p Principal, employeeID string) ([]Delegation, error) {
	if strings.TrimSpace(employeeID) == "" {
		employeeID = p.Employee.ID
	}
	emp, err := s.orgEmployee(ctx, p, employeeID)
	if err != nil {
		return nil, err
	}
	if emp.ID != p.Employee.ID && !p.Access.Can(PermManageRoles) {
		return nil, fmt.Errorf("%w: manage_roles required", ErrForbidden)
	}
	return s.store.ListDelegations(ctx, emp.ID)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// SeedSystemTemplates creates any missing built-in template for the
// organization and returns how many were created.
func (s *RoleService) SeedSystemTemplates(ctx context.Context, organizationID string) (int, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return 0, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	created := 0
	for _, st := range SystemTemplates() {
		_, err := s.store.FindTemplateByName(ctx, organizationID, st.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		if _, err := s.store.CreateTemplate(ctx, RoleTemplate{
			OrganizationID: organizationID,
			Name:           st.Name,
			Description:    st.Description,
			IsSystem:       true,
			Permissions:    st.Permissions,
			DefaultScope:   st.DefaultScope,
		}); err != nil {
			return created, fmt.Errorf("seed %s: %w", st.Name, err)
		}
		created++
	}
	return created, nil
}

func (s *RoleService) orgEmployee(ctx context.Context, p Principal, employeeID string) (Employee, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return Employee{}, fmt.Errorf("%w: employee_id is required", ErrInvalidInput)
	}
	emp, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return Employee{}, err
	}
	if emp.OrganizationID != p.Employee.OrganizationID {
		return Employee{}, fmt.Errorf("%w: employee %s", ErrNotFound, employeeID)
	}
	return emp, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
