package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tripwise.org/internal/auth"
)

const employeeColumns = `id, organization_id, email, full_name, job_title, department, manager_id, is_active, created_at, updated_at`

func scanEmployee(row interface{ Scan(...any) error }) (auth.Employee, error) {
	var (
		e       auth.Employee
		manager sql.NullString
	)
	if err := row.Scan(&e.ID, &e.OrganizationID, &e.Email, &e.FullName, &e.JobTitle, &e.Department, &manager, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return auth.Employee{}, err
	}
	e.ManagerID = manager.String
	return e, nil
}

func (s *Store) GetEmployee(ctx context.Context, employeeID string) (auth.Employee, error) {
	if s.db == nil {
		return auth.Employee{}, errNoDB
	}
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `select `+employeeColumns+` from employees where id = $1`, employeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Employee{}, fmt.Errorf("%w: employee %s", auth.ErrNotFound, employeeID)
	}
	return e, err
}

// DirectReports returns active employees reporting to managerID.
func (s *Store) DirectReports(ctx context.Context, managerID string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id from employees
		where manager_id = $1 and is_active
		order by id
	`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// EmployeesInGroups matches departments case-insensitively within one organization.
func (s *Store) EmployeesInGroups(ctx context.Context, organizationID string, groups []string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	lowered := make([]string, 0, len(groups))
	for _, g := range groups {
		if g = strings.ToLower(strings.TrimSpace(g)); g != "" {
			lowered = append(lowered, g)
		}
	}
	if len(lowered) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id from employees
		where organization_id = $1 and is_active and lower(department) = any($2)
		order by id
	`, organizationID, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ManagerOf returns the employee's active manager, or "" when there is none.
func (s *Store) ManagerOf(ctx context.Context, employeeID string) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	var (
		manager sql.NullString
		active  sql.NullBool
	)
	err := s.db.QueryRowContext(ctx, `
		select e.manager_id, m.is_active
		from employees e
		left join employees m on m.id = e.manager_id
		where e.id = $1
	`, employeeID).Scan(&manager, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: employee %s", auth.ErrNotFound, employeeID)
	}
	if err != nil {
		return "", err
	}
	if !manager.Valid || !active.Bool {
		return "", nil
	}
	return manager.String, nil
}
