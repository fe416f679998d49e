package auth

import "context"

// TemplateUpdate carries optional template changes; nil fields are left alone.
type TemplateUpdate struct {
	Name         *string
	Description  *string
	Permissions  *PermissionSet
	DefaultScope *AccessScope
}

// RoleStore persists role templates, assignments and delegations.
type RoleStore interface {
	ListTemplates(ctx context.Context, organizationID string) ([]RoleTemplate, error)
	GetTemplate(ctx context.Context, organizationID, templateID string) (RoleTemplate, error)
	FindTemplateByName(ctx context.Context, organizationID, name string) (RoleTemplate, error)
	CreateTemplate(ctx context.Context, tpl RoleTemplate) (RoleTemplate, error)
	UpdateTemplate(ctx context.Context, organizationID, templateID string, upd TemplateUpdate) (RoleTemplate, error)
	DeleteTemplate(ctx context.Context, organizationID, templateID string) error

	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignment(ctx context.Context, assignmentID string) (Assignment, error)
	DeleteAssignment(ctx context.Context, assignmentID string) error
	// ListAssignments returns the employee's assignments with Template populated.
	ListAssignments(ctx context.Context, employeeID string, activeOnly bool) ([]Assignment, error)

	CreateDelegation(ctx context.Context, d Delegation) (Delegation, error)
	GetDelegation(ctx context.Context, delegationID string) (Delegation, error)
	// RevokeDelegation clears Active; the row is kept.
	RevokeDelegation(ctx context.Context, delegationID string) error
	// ListDelegations returns delegations given or received by the employee.
	ListDelegations(ctx context.Context, employeeID string) ([]Delegation, error)
}

// EmployeeLookup reads employees by id.
type EmployeeLookup interface {
	GetEmployee(ctx context.Context, employeeID string) (Employee, error)
}
