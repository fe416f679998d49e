package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/auth"
	"tripwise.org/internal/booking"
	"tripwise.org/internal/policy"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

var bookingRowColumns = []string{"id", "organization_id", "booker_id", "trip_name", "destination", "travel_class",
	"total_amount", "currency", "start_date", "end_date", "status", "policy_status", "approval_required",
	"violations", "created_at", "updated_at"}

func TestPolicySettingsParsesDocument(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select approval_mode, policy_settings").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"approval_mode", "policy_settings"}).
			AddRow("only_when_necessary", []byte(`{"max_amount": 2500, "min_advance_days": 14, "business_class_titles": ["VP"]}`)))

	s, err := store.PolicySettings(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("PolicySettings: %v", err)
	}
	if s.Mode != policy.ModeOnlyWhenNecessary || !s.MaxAmount.Equal(decimal.NewFromInt(2500)) || s.MinAdvanceDays != 14 {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if len(s.BusinessClassTitles) != 1 || s.BusinessClassTitles[0] != "VP" {
		t.Fatalf("unexpected titles: %v", s.BusinessClassTitles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPolicySettingsUnknownOrganizationFallsBack(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select approval_mode, policy_settings").
		WillReturnRows(sqlmock.NewRows([]string{"approval_mode", "policy_settings"}))

	if _, err := store.PolicySettings(context.Background(), "ghost"); !errors.Is(err, policy.ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound, got %v", err)
	}

	mock.ExpectQuery("select approval_mode, policy_settings").
		WillReturnRows(sqlmock.NewRows([]string{"approval_mode", "policy_settings"}))
	s, err := policy.Load(context.Background(), store, "ghost")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Mode != policy.ModeAlwaysAsk || !s.MaxAmount.Equal(policy.DefaultMaxAmount) {
		t.Fatalf("expected defaults, got %+v", s)
	}
}

func TestManagerOfSkipsInactiveManager(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select e.manager_id, m.is_active").
		WithArgs("emp").
		WillReturnRows(sqlmock.NewRows([]string{"manager_id", "is_active"}).AddRow("mgr", false))

	got, err := store.ManagerOf(context.Background(), "emp")
	if err != nil {
		t.Fatalf("ManagerOf: %v", err)
	}
	if got != "" {
		t.Fatalf("expected no manager, got %q", got)
	}

	mock.ExpectQuery("select e.manager_id, m.is_active").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"manager_id", "is_active"}))
	if _, err := store.ManagerOf(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateTemplateDuplicateNameConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into role_templates").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateTemplate(context.Background(), auth.RoleTemplate{
		OrganizationID: "org-1",
		Name:           "Manager",
		Permissions:    auth.NewPermissionSet(auth.PermApproveTravel),
		DefaultScope:   auth.ScopeHierarchy,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeleteAssignedTemplateConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from role_templates").
		WithArgs("org-1", "tpl-1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if err := store.DeleteTemplate(context.Background(), "org-1", "tpl-1"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec("delete from role_templates").
		WithArgs("org-1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteTemplate(context.Background(), "org-1", "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWithBookingCommitsChanges(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("from bookings where id = .* for update").
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).AddRow(
			"bk-1", "org-1", "emp", "Offsite", "Lisbon", "economy",
			"800.00", "USD", nil, nil, "draft", "", false,
			[]byte(`[]`), created, created))
	mock.ExpectQuery("from booking_travelers").
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"employee_id", "role"}).AddRow("emp", "primary"))
	mock.ExpectQuery("update bookings").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(created.Add(time.Minute)))
	mock.ExpectQuery("insert into approval_requests").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created.Add(time.Minute)))
	mock.ExpectExec("insert into audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var approvalID string
	err := store.WithBooking(context.Background(), "bk-1", func(tx booking.Tx) error {
		b := tx.Booking()
		if b.Status != booking.StatusDraft || len(b.Travelers) != 1 || b.Travelers[0].Role != booking.RolePrimary {
			t.Fatalf("unexpected locked booking: %+v", b)
		}
		b.Status = booking.StatusPendingApproval
		b.PolicyStatus = policy.ResultPass
		b.ApprovalRequired = true
		if err := tx.SaveBooking(context.Background(), b); err != nil {
			return err
		}
		req, err := tx.CreateApproval(context.Background(), booking.ApprovalRequest{ApproverID: "mgr", Status: booking.ApprovalPending})
		if err != nil {
			return err
		}
		approvalID = req.ID
		return tx.AppendAudit(context.Background(), audit.NewEntry("bk-1", "emp", audit.ActionSubmit, "draft", "pending_approval", nil))
	})
	if err != nil {
		t.Fatalf("WithBooking: %v", err)
	}
	if approvalID == "" {
		t.Fatalf("expected approval id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithBookingRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("from bookings where id = .* for update").
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).AddRow(
			"bk-2", "org-1", "emp", "", "", "", "0.00", "USD", nil, nil,
			"pending_approval", "pass", true, []byte(`[]`), created, created))
	mock.ExpectQuery("from booking_travelers").
		WillReturnRows(sqlmock.NewRows([]string{"employee_id", "role"}).AddRow("emp", "primary"))
	mock.ExpectQuery("from approval_requests").
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "approver_id", "status", "reason", "created_at", "resolved_at"}))
	mock.ExpectRollback()

	sentinel := errors.New("stop")
	err := store.WithBooking(context.Background(), "bk-2", func(tx booking.Tx) error {
		pending, err := tx.PendingApproval(context.Background())
		if err != nil {
			return err
		}
		if pending != nil {
			t.Fatalf("expected no pending approval, got %+v", pending)
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithBookingUnknownBooking(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("from bookings where id = .* for update").
		WillReturnRows(sqlmock.NewRows(bookingRowColumns))
	mock.ExpectRollback()

	err := store.WithBooking(context.Background(), "missing", func(booking.Tx) error {
		t.Fatalf("fn must not run for a missing booking")
		return nil
	})
	if !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAuditDecodesDetails(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from audit_log").
		WithArgs(audit.EntityBooking, "bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_type", "entity_id", "actor_id", "action", "from_state", "to_state", "details", "occurred_at"}).
			AddRow("a1", "booking", "bk-1", "emp", "SUBMIT", "draft", "pending_approval", []byte(`{"policy_result":"warn"}`), at))

	entries, err := store.ListAudit(context.Background(), "bk-1")
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionSubmit {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Details["policy_result"] != "warn" {
		t.Fatalf("unexpected details: %v", entries[0].Details)
	}
}

func TestEmbeddedMigrationsPair(t *testing.T) {
	for _, name := range []string{"0001_directory", "0002_roles", "0003_bookings", "0004_delegations"} {
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			f, err := Migrations().Open(name + suffix)
			if err != nil {
				t.Fatalf("open %s%s: %v", name, suffix, err)
			}
			_ = f.Close()
		}
	}
	if _, err := Seeds().Open("0001_demo_org.sql"); err != nil {
		t.Fatalf("open seed: %v", err)
	}
}

func TestDelegationsScanOptionalWindow(t *testing.T) {
	store, mock := newMockStore(t)
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from delegations").
		WithArgs("ea").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "delegator_id", "delegate_id", "delegation_type",
			"starts_at", "expires_at", "is_active", "created_at"}).
			AddRow("d1", "org", "ceo", "ea", "booking", nil, expires, true, time.Now()).
			AddRow("d2", "org", "cfo", "ea", "approval", nil, nil, false, time.Now()))

	got, err := store.ListDelegations(context.Background(), "ea")
	if err != nil {
		t.Fatalf("ListDelegations: %v", err)
	}
	if len(got) != 2 || got[0].Type != auth.DelegateBooking || got[0].StartsAt != nil || got[0].ExpiresAt == nil || !got[0].ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected first delegation %+v", got)
	}
	if got[1].Active || got[1].ExpiresAt != nil {
		t.Fatalf("unexpected second delegation %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRevokeUnknownDelegation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update delegations set is_active = false").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RevokeDelegation(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
