package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/ids"
)

const delegationColumns = `id, organization_id, delegator_id, delegate_id, delegation_type, starts_at, expires_at, is_active, created_at`

func scanDelegation(row interface{ Scan(...any) error }) (auth.Delegation, error) {
	var (
		d             auth.Delegation
		typ           string
		starts, expir sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.OrganizationID, &d.DelegatorID, &d.DelegateID, &typ, &starts, &expir, &d.Active, &d.CreatedAt); err != nil {
		return auth.Delegation{}, err
	}
	d.Type = auth.DelegationType(typ)
	d.StartsAt, d.ExpiresAt = timePtr(starts), timePtr(expir)
	return d, nil
}

func (s *Store) CreateDelegation(ctx context.Context, d auth.Delegation) (auth.Delegation, error) {
	if s.db == nil {
		return auth.Delegation{}, errNoDB
	}
	d.ID = ids.New()
	err := s.db.QueryRowContext(ctx, `
		insert into delegations (id, organization_id, delegator_id, delegate_id, delegation_type, starts_at, expires_at, is_active)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, d.ID, d.OrganizationID, d.DelegatorID, d.DelegateID, string(d.Type), nullTime(d.StartsAt), nullTime(d.ExpiresAt), d.Active).Scan(&d.CreatedAt)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return auth.Delegation{}, fmt.Errorf("%w: delegating employee", auth.ErrNotFound)
		}
		return auth.Delegation{}, err
	}
	return d, nil
}

func (s *Store) GetDelegation(ctx context.Context, delegationID string) (auth.Delegation, error) {
	if s.db == nil {
		return auth.Delegation{}, errNoDB
	}
	d, err := scanDelegation(s.db.QueryRowContext(ctx,
		`select `+delegationColumns+` from delegations where id = $1`, delegationID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Delegation{}, fmt.Errorf("%w: delegation %s", auth.ErrNotFound, delegationID)
	}
	return d, err
}

func (s *Store) RevokeDelegation(ctx context.Context, delegationID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update delegations set is_active = false where id = $1`, delegationID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: delegation %s", auth.ErrNotFound, delegationID)
	}
	return nil
}

func (s *Store) ListDelegations(ctx context.Context, employeeID string) ([]auth.Delegation, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+delegationColumns+`
		from delegations
		where delegator_id = $1 or delegate_id = $1
		order by created_at, id
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]auth.Delegation, 0)
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
