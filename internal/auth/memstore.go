package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tripwise.org/internal/ids"
)

// MemoryRoleStore is an in-process RoleStore.
type MemoryRoleStore struct {
	mu          sync.RWMutex
	templates   map[string]RoleTemplate
	assignments map[string]Assignment
	delegations map[string]Delegation
	now         func() time.Time
}

// NewMemoryRoleStore returns an empty store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		templates:   make(map[string]RoleTemplate),
		assignments: make(map[string]Assignment),
		delegations: make(map[string]Delegation),
		now:         time.Now,
	}
}

func (m *MemoryRoleStore) ListTemplates(_ context.Context, organizationID string) ([]RoleTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoleTemplate, 0)
	for _, t := range m.templates {
		if t.OrganizationID == organizationID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSystem != out[j].IsSystem {
			return out[i].IsSystem
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryRoleStore) GetTemplate(_ context.Context, organizationID, templateID string) (RoleTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[templateID]
	if !ok || t.OrganizationID != organizationID {
		return RoleTemplate{}, fmt.Errorf("%w: role template %s", ErrNotFound, templateID)
	}
	return t, nil
}

func (m *MemoryRoleStore) FindTemplateByName(_ context.Context, organizationID, name string) (RoleTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.templates {
		if t.OrganizationID == organizationID && strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return RoleTemplate{}, fmt.Errorf("%w: role template %q", ErrNotFound, name)
}

func (m *MemoryRoleStore) CreateTemplate(_ context.Context, tpl RoleTemplate) (RoleTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.OrganizationID == tpl.OrganizationID && strings.EqualFold(t.Name, tpl.Name) {
			return RoleTemplate{}, fmt.Errorf("%w: role template %q already exists", ErrConflict, tpl.Name)
		}
	}
	now := m.now().UTC()
	tpl.ID = ids.New()
	tpl.CreatedAt, tpl.UpdatedAt = now, now
	m.templates[tpl.ID] = tpl
	return tpl, nil
}

func (m *MemoryRoleStore) UpdateTemplate(_ context.Context, organizationID, templateID string, upd TemplateUpdate) (RoleTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[templateID]
	if !ok || t.OrganizationID != organizationID {
		return RoleTemplate{}, fmt.Errorf("%w: role template %s", ErrNotFound, templateID)
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Permissions != nil {
		t.Permissions = *upd.Permissions
	}
	if upd.DefaultScope != nil {
		t.DefaultScope = *upd.DefaultScope
	}
	t.UpdatedAt = m.now().UTC()
	m.templates[templateID] = t
	return t, nil
}

func (m *MemoryRoleStore) DeleteTemplate(_ context.Context, organizationID, templateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[templateID]
	if !ok || t.OrganizationID != organizationID {
		return fmt.Errorf("%w: role template %s", ErrNotFound, templateID)
	}
	for _, a := range m.assignments {
		if a.TemplateID == templateID {
			return fmt.Errorf("%w: role template %s is assigned", ErrConflict, templateID)
		}
	}
	delete(m.templates, templateID)
	return nil
}

func (m *MemoryRoleStore) CreateAssignment(_ context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[a.TemplateID]; !ok {
		return Assignment{}, fmt.Errorf("%w: role template %s", ErrNotFound, a.TemplateID)
	}
	a.ID = ids.New()
	a.CreatedAt = m.now().UTC()
	a.Individuals = append([]string(nil), a.Individuals...)
	a.Groups = append([]string(nil), a.Groups...)
	a.Template = nil
	m.assignments[a.ID] = a
	return m.withTemplate(a), nil
}

func (m *MemoryRoleStore) GetAssignment(_ context.Context, assignmentID string) (Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[assignmentID]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	return m.withTemplate(a), nil
}

func (m *MemoryRoleStore) DeleteAssignment(_ context.Context, assignmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[assignmentID]; !ok {
		return fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	delete(m.assignments, assignmentID)
	return nil
}

func (m *MemoryRoleStore) ListAssignments(_ context.Context, employeeID string, activeOnly bool) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Assignment, 0)
	for _, a := range m.assignments {
		if a.EmployeeID != employeeID || (activeOnly && !a.Active) {
			continue
		}
		out = append(out, m.withTemplate(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRoleStore) withTemplate(a Assignment) Assignment {
	if t, ok := m.templates[a.TemplateID]; ok {
		tpl := t
		a.Template = &tpl
	}
	return a
}

func (m *MemoryRoleStore) CreateDelegation(_ context.Context, d Delegation) (Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = ids.New()
	d.CreatedAt = m.now().UTC()
	m.delegations[d.ID] = d
	return d, nil
}

func (m *MemoryRoleStore) GetDelegation(_ context.Context, delegationID string) (Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegations[delegationID]
	if !ok {
		return Delegation{}, fmt.Errorf("%w: delegation %s", ErrNotFound, delegationID)
	}
	return d, nil
}

func (m *MemoryRoleStore) RevokeDelegation(_ context.Context, delegationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[delegationID]
	if !ok {
		return fmt.Errorf("%w: delegation %s", ErrNotFound, delegationID)
	}
	d.Active = false
	m.delegations[delegationID] = d
	return nil
}

func (m *MemoryRoleStore) ListDelegations(_ context.Context, employeeID string) ([]Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Delegation, 0)
	for _, d := range m.delegations {
		if d.DelegatorID == employeeID || d.DelegateID == employeeID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
