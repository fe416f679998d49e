package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/booking"
	"tripwise.org/internal/ids"
	"tripwise.org/internal/policy"
)

var _ booking.Store = (*Store)(nil)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const bookingColumns = `id, organization_id, booker_id, trip_name, destination, travel_class, total_amount,
	currency, start_date, end_date, status, policy_status, approval_required, violations, created_at, updated_at`

const approvalColumns = `id, booking_id, approver_id, status, reason, created_at, resolved_at`

func (s *Store) CreateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, errNoDB
	}
	violations, err := json.Marshal(nonNilViolations(b.Violations))
	if err != nil {
		return booking.Booking{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return booking.Booking{}, err
	}
	defer func() { _ = tx.Rollback() }()

	b.ID = ids.New()
	err = tx.QueryRowContext(ctx, `
		insert into bookings (id, organization_id, booker_id, trip_name, destination, travel_class,
			total_amount, currency, start_date, end_date, status, policy_status, approval_required, violations)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		returning created_at, updated_at
	`, b.ID, b.OrganizationID, b.BookerID, b.TripName, b.Destination, b.TravelClass,
		b.TotalAmount, b.Currency, nullTime(b.StartDate), nullTime(b.EndDate), string(b.Status),
		string(b.PolicyStatus), b.ApprovalRequired, violations).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return booking.Booking{}, fmt.Errorf("%w: unknown organization or booker", booking.ErrInvalidInput)
		}
		return booking.Booking{}, err
	}
	for i, t := range b.Travelers {
		if _, err := tx.ExecContext(ctx, `
			insert into booking_travelers (booking_id, employee_id, role, position)
			values ($1, $2, $3, $4)
		`, b.ID, t.EmployeeID, string(t.Role), i); err != nil {
			if isPgCode(err, pgErrUniqueViolation) || isPgCode(err, pgErrForeignKeyViolation) {
				return booking.Booking{}, fmt.Errorf("%w: traveler %s", booking.ErrInvalidInput, t.EmployeeID)
			}
			return booking.Booking{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, errNoDB
	}
	return loadBooking(ctx, s.db, bookingID, false)
}

func loadBooking(ctx context.Context, q queryer, bookingID string, lock bool) (booking.Booking, error) {
	query := `select ` + bookingColumns + ` from bookings where id = $1`
	if lock {
		query += ` for update`
	}
	var (
		b                    booking.Booking
		status, policyStatus string
		start, end           sql.NullTime
		violations           []byte
	)
	err := q.QueryRowContext(ctx, query, bookingID).Scan(&b.ID, &b.OrganizationID, &b.BookerID, &b.TripName,
		&b.Destination, &b.TravelClass, &b.TotalAmount, &b.Currency, &start, &end, &status, &policyStatus,
		&b.ApprovalRequired, &violations, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, fmt.Errorf("%w: booking %s", booking.ErrNotFound, bookingID)
	}
	if err != nil {
		return booking.Booking{}, err
	}
	b.Status = booking.Status(status)
	b.PolicyStatus = policy.Result(policyStatus)
	b.StartDate, b.EndDate = timePtr(start), timePtr(end)
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &b.Violations); err != nil {
			return booking.Booking{}, fmt.Errorf("decode violations: %w", err)
		}
	}
	if len(b.Violations) == 0 {
		b.Violations = nil
	}

	rows, err := q.QueryContext(ctx, `
		select employee_id, role
		from booking_travelers
		where booking_id = $1
		order by position
	`, bookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t booking.Traveler
		var role string
		if err := rows.Scan(&t.EmployeeID, &role); err != nil {
			return booking.Booking{}, err
		}
		t.Role = booking.TravelerRole(role)
		b.Travelers = append(b.Travelers, t)
	}
	if err := rows.Err(); err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

func scanApproval(row interface{ Scan(...any) error }) (booking.ApprovalRequest, error) {
	var (
		req      booking.ApprovalRequest
		status   string
		resolved sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.BookingID, &req.ApproverID, &status, &req.Reason, &req.CreatedAt, &resolved); err != nil {
		return booking.ApprovalRequest{}, err
	}
	req.Status = booking.ApprovalStatus(status)
	req.ResolvedAt = timePtr(resolved)
	return req, nil
}

func (s *Store) GetApproval(ctx context.Context, approvalID string) (booking.ApprovalRequest, error) {
	if s.db == nil {
		return booking.ApprovalRequest{}, errNoDB
	}
	req, err := scanApproval(s.db.QueryRowContext(ctx, `select `+approvalColumns+` from approval_requests where id = $1`, approvalID))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ApprovalRequest{}, fmt.Errorf("%w: approval %s", booking.ErrNotFound, approvalID)
	}
	return req, err
}

func (s *Store) ListPendingApprovals(ctx context.Context, approverID string) ([]booking.ApprovalRequest, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+approvalColumns+`
		from approval_requests
		where approver_id = $1 and status = 'pending'
		order by id
	`, approverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]booking.ApprovalRequest, 0)
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListAudit(ctx context.Context, bookingID string) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, entity_type, entity_id, actor_id, action, from_state, to_state, details, occurred_at
		from audit_log
		where entity_type = $1 and entity_id = $2
		order by occurred_at, id
	`, audit.EntityBooking, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e       audit.Entry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &action, &e.FromState, &e.ToState, &details, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WithBooking locks the booking row for the duration of fn.
func (s *Store) WithBooking(ctx context.Context, bookingID string, fn func(tx booking.Tx) error) error {
	if s.db == nil {
		return errNoDB
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	b, err := loadBooking(ctx, sqlTx, bookingID, true)
	if err != nil {
		return err
	}
	if err := fn(&pgTx{tx: sqlTx, booking: b, now: s.now}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx      *sql.Tx
	booking booking.Booking
	now     func() time.Time
}

func (t *pgTx) Booking() booking.Booking { return t.booking }

func (t *pgTx) SaveBooking(ctx context.Context, b booking.Booking) error {
	if b.ID != t.booking.ID {
		return fmt.Errorf("%w: transaction is bound to booking %s", booking.ErrInvalidInput, t.booking.ID)
	}
	violations, err := json.Marshal(nonNilViolations(b.Violations))
	if err != nil {
		return err
	}
	if err := t.tx.QueryRowContext(ctx, `
		update bookings
		set status = $2, policy_status = $3, approval_required = $4, violations = $5, updated_at = now()
		where id = $1
		returning updated_at
	`, b.ID, string(b.Status), string(b.PolicyStatus), b.ApprovalRequired, violations).Scan(&b.UpdatedAt); err != nil {
		return err
	}
	t.booking = b
	return nil
}

func (t *pgTx) GetApproval(ctx context.Context, approvalID string) (booking.ApprovalRequest, error) {
	req, err := scanApproval(t.tx.QueryRowContext(ctx, `
		select `+approvalColumns+`
		from approval_requests
		where id = $1 and booking_id = $2
		for update
	`, approvalID, t.booking.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ApprovalRequest{}, fmt.Errorf("%w: approval %s", booking.ErrNotFound, approvalID)
	}
	return req, err
}

func (t *pgTx) PendingApproval(ctx context.Context) (*booking.ApprovalRequest, error) {
	req, err := scanApproval(t.tx.QueryRowContext(ctx, `
		select `+approvalColumns+`
		from approval_requests
		where booking_id = $1 and status = 'pending'
		for update
	`, t.booking.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (t *pgTx) CreateApproval(ctx context.Context, req booking.ApprovalRequest) (booking.ApprovalRequest, error) {
	req.ID = ids.New()
	req.BookingID = t.booking.ID
	err := t.tx.QueryRowContext(ctx, `
		insert into approval_requests (id, booking_id, approver_id, status, reason)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, req.ID, req.BookingID, req.ApproverID, string(req.Status), req.Reason).Scan(&req.CreatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return booking.ApprovalRequest{}, fmt.Errorf("%w: booking %s already has a pending approval", booking.ErrInvalidState, t.booking.ID)
		}
		return booking.ApprovalRequest{}, err
	}
	return req, nil
}

func (t *pgTx) SaveApproval(ctx context.Context, req booking.ApprovalRequest) error {
	if req.BookingID != t.booking.ID {
		return fmt.Errorf("%w: approval %s belongs to another booking", booking.ErrInvalidInput, req.ID)
	}
	_, err := t.tx.ExecContext(ctx, `
		update approval_requests
		set status = $2, reason = $3, resolved_at = $4
		where id = $1
	`, req.ID, string(req.Status), req.Reason, nullTime(req.ResolvedAt))
	return err
}

func (t *pgTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	if e.Details == nil {
		details = []byte("{}")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = t.now().UTC()
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into audit_log (id, entity_type, entity_id, actor_id, action, from_state, to_state, details, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.EntityType, e.EntityID, e.ActorID, string(e.Action), e.FromState, e.ToState, details, e.OccurredAt)
	return err
}

func nonNilViolations(v []policy.Violation) []policy.Violation {
	if v == nil {
		return []policy.Violation{}
	}
	return v
}
