package auth

import (
	"fmt"
	"strings"
	"time"
)

// Employee is an actor subject to access control. Employees are never hard
// deleted; Active is cleared instead.
type Employee struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	JobTitle       string    `json:"job_title,omitempty"`
	Department     string    `json:"department,omitempty"`
	ManagerID      string    `json:"manager_id,omitempty"`
	Active         bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasManager reports whether a manager link is set.
func (e Employee) HasManager() bool {
	return strings.TrimSpace(e.ManagerID) != ""
}

// RoleTemplate is a named per-organization bundle of permissions.
type RoleTemplate struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	IsSystem       bool          `json:"is_system"`
	Permissions    PermissionSet `json:"permissions"`
	DefaultScope   AccessScope   `json:"default_access_scope"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Assignment binds an employee to a role template with a concrete scope.
type Assignment struct {
	ID          string        `json:"id"`
	EmployeeID  string        `json:"employee_id"`
	TemplateID  string        `json:"role_template_id"`
	Template    *RoleTemplate `json:"role_template,omitempty"`
	Scope       AccessScope   `json:"access_scope"`
	Individuals []string      `json:"accessible_employee_ids,omitempty"`
	Groups      []string      `json:"accessible_groups,omitempty"`
	Active      bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Validate checks the scope-dependent list requirements.
func (a Assignment) Validate() error {
	if strings.TrimSpace(a.EmployeeID) == "" || strings.TrimSpace(a.TemplateID) == "" {
		return fmt.Errorf("%w: employee_id and role_template_id are required", ErrInvalidInput)
	}
	if !a.Scope.Valid() {
		return fmt.Errorf("%w: unsupported access scope %q", ErrInvalidInput, a.Scope)
	}
	switch a.Scope {
	case ScopeIndividuals:
		if len(a.Individuals) == 0 {
			return fmt.Errorf("%w: accessible_employee_ids required for 'individuals' scope", ErrInvalidInput)
		}
	case ScopeGroup:
		if len(a.Groups) == 0 {
			return fmt.Errorf("%w: accessible_groups required for 'group' scope", ErrInvalidInput)
		}
	}
	return nil
}
