package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/ids"
)

var (
	_ auth.RoleStore      = (*Store)(nil)
	_ auth.EmployeeLookup = (*Store)(nil)
)

const templateColumns = `id, organization_id, name, description, is_system, permissions, default_access_scope, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (auth.RoleTemplate, error) {
	var (
		tpl   auth.RoleTemplate
		perms []byte
		scope string
	)
	if err := row.Scan(&tpl.ID, &tpl.OrganizationID, &tpl.Name, &tpl.Description, &tpl.IsSystem, &perms, &scope, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return auth.RoleTemplate{}, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &tpl.Permissions); err != nil {
			return auth.RoleTemplate{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	tpl.DefaultScope = auth.AccessScope(scope)
	return tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, organizationID string) ([]auth.RoleTemplate, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+templateColumns+`
		from role_templates
		where organization_id = $1
		order by is_system desc, name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RoleTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetTemplate(ctx context.Context, organizationID, templateID string) (auth.RoleTemplate, error) {
	if s.db == nil {
		return auth.RoleTemplate{}, errNoDB
	}
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `
		select `+templateColumns+`
		from role_templates
		where organization_id = $1 and id = $2
	`, organizationID, templateID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleTemplate{}, fmt.Errorf("%w: role template %s", auth.ErrNotFound, templateID)
	}
	return tpl, err
}

func (s *Store) FindTemplateByName(ctx context.Context, organizationID, name string) (auth.RoleTemplate, error) {
	if s.db == nil {
		return auth.RoleTemplate{}, errNoDB
	}
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `
		select `+templateColumns+`
		from role_templates
		where organization_id = $1 and lower(name) = lower($2)
	`, organizationID, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleTemplate{}, fmt.Errorf("%w: role template %q", auth.ErrNotFound, name)
	}
	return tpl, err
}

func (s *Store) CreateTemplate(ctx context.Context, tpl auth.RoleTemplate) (auth.RoleTemplate, error) {
	if s.db == nil {
		return auth.RoleTemplate{}, errNoDB
	}
	perms, err := json.Marshal(tpl.Permissions)
	if err != nil {
		return auth.RoleTemplate{}, err
	}
	created, err := scanTemplate(s.db.QueryRowContext(ctx, `
		insert into role_templates (id, organization_id, name, description, is_system, permissions, default_access_scope)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+templateColumns,
		ids.New(), tpl.OrganizationID, tpl.Name, tpl.Description, tpl.IsSystem, perms, string(tpl.DefaultScope)))
	if err != nil {
		return auth.RoleTemplate{}, roleError(err, "role template "+tpl.Name)
	}
	return created, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, organizationID, templateID string, upd auth.TemplateUpdate) (auth.RoleTemplate, error) {
	if s.db == nil {
		return auth.RoleTemplate{}, errNoDB
	}
	var (
		name, description, scope sql.NullString
		perms                    []byte
	)
	if upd.Name != nil {
		name = sql.NullString{String: *upd.Name, Valid: true}
	}
	if upd.Description != nil {
		description = sql.NullString{String: *upd.Description, Valid: true}
	}
	if upd.DefaultScope != nil {
		scope = sql.NullString{String: string(*upd.DefaultScope), Valid: true}
	}
	if upd.Permissions != nil {
		raw, err := json.Marshal(*upd.Permissions)
		if err != nil {
			return auth.RoleTemplate{}, err
		}
		perms = raw
	}
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `
		update role_templates
		set name = coalesce($3, name),
		    description = coalesce($4, description),
		    permissions = coalesce($5, permissions),
		    default_access_scope = coalesce($6, default_access_scope),
		    updated_at = now()
		where organization_id = $1 and id = $2
		returning `+templateColumns,
		organizationID, templateID, name, description, perms, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleTemplate{}, fmt.Errorf("%w: role template %s", auth.ErrNotFound, templateID)
	}
	if err != nil {
		return auth.RoleTemplate{}, roleError(err, "role template "+templateID)
	}
	return tpl, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, organizationID, templateID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from role_templates where organization_id = $1 and id = $2`, organizationID, templateID)
	if err != nil {
		return roleError(err, "role template "+templateID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: role template %s", auth.ErrNotFound, templateID)
	}
	return nil
}

func (s *Store) CreateAssignment(ctx context.Context, a auth.Assignment) (auth.Assignment, error) {
	if s.db == nil {
		return auth.Assignment{}, errNoDB
	}
	individuals, err := jsonList(a.Individuals)
	if err != nil {
		return auth.Assignment{}, err
	}
	groups, err := jsonList(a.Groups)
	if err != nil {
		return auth.Assignment{}, err
	}
	a.ID = ids.New()
	err = s.db.QueryRowContext(ctx, `
		insert into role_assignments (id, employee_id, role_template_id, access_scope, accessible_employee_ids, accessible_groups, is_active)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at
	`, a.ID, a.EmployeeID, a.TemplateID, string(a.Scope), individuals, groups, a.Active).Scan(&a.CreatedAt)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return auth.Assignment{}, fmt.Errorf("%w: role template %s", auth.ErrNotFound, a.TemplateID)
		}
		return auth.Assignment{}, err
	}
	return s.GetAssignment(ctx, a.ID)
}

const assignmentQuery = `
	select a.id, a.employee_id, a.role_template_id, a.access_scope, a.accessible_employee_ids,
	       a.accessible_groups, a.is_active, a.created_at,
	       t.id, t.organization_id, t.name, t.description, t.is_system, t.permissions,
	       t.default_access_scope, t.created_at, t.updated_at
	from role_assignments a
	join role_templates t on t.id = a.role_template_id
`

func scanAssignment(row interface{ Scan(...any) error }) (auth.Assignment, error) {
	var (
		a                   auth.Assignment
		scope, tplScope     string
		individuals, groups []byte
		perms               []byte
		tpl                 auth.RoleTemplate
	)
	err := row.Scan(&a.ID, &a.EmployeeID, &a.TemplateID, &scope, &individuals, &groups, &a.Active, &a.CreatedAt,
		&tpl.ID, &tpl.OrganizationID, &tpl.Name, &tpl.Description, &tpl.IsSystem, &perms, &tplScope, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return auth.Assignment{}, err
	}
	a.Scope = auth.AccessScope(scope)
	if a.Individuals, err = decodeList(individuals); err != nil {
		return auth.Assignment{}, fmt.Errorf("decode accessible_employee_ids: %w", err)
	}
	if a.Groups, err = decodeList(groups); err != nil {
		return auth.Assignment{}, fmt.Errorf("decode accessible_groups: %w", err)
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &tpl.Permissions); err != nil {
			return auth.Assignment{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	tpl.DefaultScope = auth.AccessScope(tplScope)
	a.Template = &tpl
	return a, nil
}

func (s *Store) GetAssignment(ctx context.Context, assignmentID string) (auth.Assignment, error) {
	if s.db == nil {
		return auth.Assignment{}, errNoDB
	}
	a, err := scanAssignment(s.db.QueryRowContext(ctx, assignmentQuery+` where a.id = $1`, assignmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Assignment{}, fmt.Errorf("%w: assignment %s", auth.ErrNotFound, assignmentID)
	}
	return a, err
}

func (s *Store) DeleteAssignment(ctx context.Context, assignmentID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from role_assignments where id = $1`, assignmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: assignment %s", auth.ErrNotFound, assignmentID)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, employeeID string, activeOnly bool) ([]auth.Assignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, assignmentQuery+`
		where a.employee_id = $1 and ($2 = false or a.is_active)
		order by a.id
	`, employeeID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]auth.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func roleError(err error, what string) error {
	switch {
	case isPgCode(err, pgErrUniqueViolation):
		return fmt.Errorf("%w: %s already exists", auth.ErrConflict, what)
	case isPgCode(err, pgErrForeignKeyViolation):
		return fmt.Errorf("%w: %s is still referenced", auth.ErrConflict, what)
	}
	return err
}
