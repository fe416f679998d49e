// Package directory provides the employee directory used for group and
// hierarchy expansion, manager routing and traveler lookup.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tripwise.org/internal/auth"
)

// ErrUnavailable marks a directory that could not answer in time.
var ErrUnavailable = auth.ErrDirectoryUnavailable

// Memory is an id-indexed employee arena. Manager links are stored as ids so
// cycles in the data cannot create reference loops.
type Memory struct {
	mu        sync.RWMutex
	employees map[string]auth.Employee
	reports   map[string][]string
}

func NewMemory(employees ...auth.Employee) *Memory {
	m := &Memory{employees: make(map[string]auth.Employee), reports: make(map[string][]string)}
	for _, e := range employees {
		m.put(e)
	}
	return m
}

// Put inserts or replaces an employee.
func (m *Memory) Put(e auth.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(e)
}

func (m *Memory) put(e auth.Employee) {
	if old, ok := m.employees[e.ID]; ok && old.ManagerID != "" {
		m.reports[old.ManagerID] = remove(m.reports[old.ManagerID], e.ID)
	}
	m.employees[e.ID] = e
	if e.ManagerID != "" {
		m.reports[e.ManagerID] = append(m.reports[e.ManagerID], e.ID)
		sort.Strings(m.reports[e.ManagerID])
	}
}

func (m *Memory) GetEmployee(_ context.Context, id string) (auth.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return auth.Employee{}, fmt.Errorf("%w: employee %s", auth.ErrNotFound, id)
	}
	return e, nil
}

// DirectReports returns the active employees whose manager is managerID.
func (m *Memory) DirectReports(_ context.Context, managerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range m.reports[managerID] {
		if m.employees[id].Active {
			out = append(out, id)
		}
	}
	return out, nil
}

// EmployeesInGroups returns active employees of the organization whose
// department matches one of groups, case-insensitively.
func (m *Memory) EmployeesInGroups(_ context.Context, organizationID string, groups []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		wanted[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, e := range m.employees {
		if !e.Active || e.OrganizationID != organizationID {
			continue
		}
		if _, ok := wanted[strings.ToLower(strings.TrimSpace(e.Department))]; ok {
			out = append(out, e.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ManagerOf returns the active manager id of an employee, or "" when none.
func (m *Memory) ManagerOf(_ context.Context, employeeID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[employeeID]
	if !ok {
		return "", fmt.Errorf("%w: employee %s", auth.ErrNotFound, employeeID)
	}
	if !e.HasManager() {
		return "", nil
	}
	mgr, ok := m.employees[e.ManagerID]
	if !ok || !mgr.Active {
		return "", nil
	}
	return mgr.ID, nil
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
