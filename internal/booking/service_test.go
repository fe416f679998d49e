package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/directory"
	"tripwise.org/internal/policy"
)

type settingsMap map[string]policy.Settings

func (m settingsMap) PolicySettings(_ context.Context, orgID string) (policy.Settings, error) {
	s, ok := m[orgID]
	if !ok {
		return policy.Settings{}, policy.ErrSettingsNotFound
	}
	return s, nil
}

type failingDirectory struct{ *directory.Memory }

func (failingDirectory) DirectReports(context.Context, string) ([]string, error) {
	return nil, errors.New("ldap timeout")
}

func principal(id string, assignments ...auth.Assignment) auth.Principal {
	e := auth.Employee{ID: id, OrganizationID: "org", Active: true}
	return auth.Principal{Employee: e, Access: auth.Resolve(e, assignments)}
}

func role(scope auth.AccessScope, perms ...auth.Permission) auth.Assignment {
	return auth.Assignment{Active: true, Scope: scope, Template: &auth.RoleTemplate{Permissions: auth.NewPermissionSet(perms...)}}
}

func newTestService(t *testing.T, settings settingsMap) (*Service, *fixture) {
	t.Helper()
	f := newFixture(t)
	f.dir.Put(auth.Employee{ID: "ea", OrganizationID: "org", Active: true})
	f.dir.Put(auth.Employee{ID: "other", OrganizationID: "org2", Active: true})
	svc, err := NewService(f.store, f.lifecycle, policy.NewEngine(), settings, f.dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, f
}

func TestCreateDraftChecksPermissionsAndTravelers(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateDraft(ctx, principal("emp"), CreateInput{TravelerIDs: []string{"emp"}}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("no booking permission: expected ErrForbidden, got %v", err)
	}

	booker := principal("emp", role(auth.ScopeSelf, auth.PermBookFlights))
	if _, err := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp", "mgr"}}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("foreign traveler: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateDraft(ctx, booker, CreateInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("no travelers: expected ErrInvalidInput, got %v", err)
	}

	b, err := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{" emp ", "emp"}, Destination: "Oslo", TravelClass: "Economy", TotalAmount: decimal.NewFromInt(300)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != StatusDraft || len(b.Travelers) != 1 || b.Travelers[0].Role != RolePrimary || b.Currency != "USD" || b.TravelClass != "economy" {
		t.Fatalf("unexpected draft %+v", b)
	}
}

func TestCreateDraftForReportsUsesHierarchy(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mgr := principal("mgr", role(auth.ScopeHierarchy, auth.PermBookHotels))

	b, err := svc.CreateDraft(ctx, mgr, CreateInput{TravelerIDs: []string{"emp", "mgr"}})
	if err != nil {
		t.Fatalf("create for report: %v", err)
	}
	if b.Travelers[0].EmployeeID != "emp" || b.Travelers[1].Role != RoleAdditional {
		t.Fatalf("unexpected travelers %+v", b.Travelers)
	}
	if _, err := svc.CreateDraft(ctx, mgr, CreateInput{TravelerIDs: []string{"solo"}}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("non-report: expected ErrForbidden, got %v", err)
	}
}

func TestCreateDraftFailsClosedWhenDirectoryDown(t *testing.T) {
	f := newFixture(t)
	svc, err := NewService(f.store, f.lifecycle, policy.NewEngine(), nil, failingDirectory{f.dir})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	mgr := principal("mgr", role(auth.ScopeHierarchy, auth.PermBookFlights))
	_, err = svc.CreateDraft(context.Background(), mgr, CreateInput{TravelerIDs: []string{"emp"}})
	if !errors.Is(err, auth.ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
}

func TestServiceSubmitScenarios(t *testing.T) {
	onlyWhenNecessary := policy.DefaultSettings()
	onlyWhenNecessary.Mode = policy.ModeOnlyWhenNecessary
	svc, f := newTestService(t, settingsMap{"org": onlyWhenNecessary})
	ctx := context.Background()
	booker := principal("emp", role(auth.ScopeSelf, auth.PermBookFlights))

	start := time.Now().Add(10*24*time.Hour + time.Hour)
	over, err := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp"}, TravelClass: "economy", TotalAmount: decimal.NewFromInt(1500), StartDate: &start})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	out, verdict, err := svc.Submit(ctx, booker, over.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if verdict.Result != policy.ResultWarn || !verdict.ApprovalRequired || out.Status != StatusPendingApproval {
		t.Fatalf("unexpected outcome %+v / %+v", verdict, out)
	}
	if reqs, _ := f.store.ListPendingApprovals(ctx, "mgr"); len(reqs) != 1 {
		t.Fatalf("expected one approval for mgr, got %d", len(reqs))
	}

	later := time.Now().Add(30 * 24 * time.Hour)
	ok, _ := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp"}, TravelClass: "economy", TotalAmount: decimal.NewFromInt(500), StartDate: &later})
	out, verdict, err = svc.Submit(ctx, booker, ok.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if verdict.Result != policy.ResultPass || verdict.ApprovalRequired || out.Status != StatusApproved {
		t.Fatalf("unexpected outcome %+v / %+v", verdict, out)
	}
}

func TestServiceRoundsAmountToCents(t *testing.T) {
	onlyWhenNecessary := policy.DefaultSettings()
	onlyWhenNecessary.Mode = policy.ModeOnlyWhenNecessary
	svc, _ := newTestService(t, settingsMap{"org": onlyWhenNecessary})
	ctx := context.Background()
	booker := principal("emp", role(auth.ScopeSelf, auth.PermBookFlights))
	later := time.Now().Add(30 * 24 * time.Hour)

	b, err := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp"}, TotalAmount: decimal.RequireFromString("1000.001"), StartDate: &later})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.TotalAmount.StringFixed(2) != "1000.00" || !b.TotalAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000.00, got %s", b.TotalAmount)
	}
	_, verdict, err := svc.Submit(ctx, booker, b.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if verdict.Result != policy.ResultPass || len(verdict.Violations) != 0 {
		t.Fatalf("amount at the ceiling should pass, got %+v", verdict)
	}

	if _, err := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp"}, TotalAmount: decimal.RequireFromString("-0.01")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative amount: expected ErrInvalidInput, got %v", err)
	}
}

func TestServiceSubmitDefaultsToAlwaysAsk(t *testing.T) {
	svc, _ := newTestService(t, settingsMap{})
	ctx := context.Background()
	booker := principal("emp", role(auth.ScopeSelf, auth.PermBookFlights))
	later := time.Now().Add(30 * 24 * time.Hour)
	b, _ := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp"}, TotalAmount: decimal.NewFromInt(100), StartDate: &later})

	out, verdict, err := svc.Submit(ctx, booker, b.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if verdict.Result != policy.ResultPass || !verdict.ApprovalRequired || out.Status != StatusPendingApproval {
		t.Fatalf("always_ask should route compliant bookings: %+v / %s", verdict, out.Status)
	}
}

func TestServiceVisibility(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	booker := principal("emp", role(auth.ScopeSelf, auth.PermBookFlights))
	b, err := svc.CreateDraft(ctx, booker, CreateInput{TravelerIDs: []string{"emp"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get(ctx, booker, b.ID); err != nil {
		t.Fatalf("booker should see own booking: %v", err)
	}
	if _, err := svc.Get(ctx, principal("solo"), b.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(ctx, principal("mgr", role(auth.ScopeHierarchy, auth.PermViewTeamBookings)), b.ID); err != nil {
		t.Fatalf("manager should see team booking: %v", err)
	}
	foreign := auth.Principal{Employee: auth.Employee{ID: "other", OrganizationID: "org2"}, Access: auth.Access{Global: true, Permissions: auth.AllPermissionSet()}}
	if _, err := svc.Get(ctx, foreign, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other organization: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Cancel(ctx, principal("solo", role(auth.ScopeSelf, auth.PermBookFlights)), b.ID, ""); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("stranger cancel: expected ErrForbidden, got %v", err)
	}
	if out, err := svc.Cancel(ctx, booker, b.ID, "no longer needed"); err != nil || out.Status != StatusCancelled {
		t.Fatalf("cancel: %+v err=%v", out, err)
	}
	trail, err := svc.History(ctx, booker, b.ID)
	if err != nil || len(trail) != 1 {
		t.Fatalf("history: %+v err=%v", trail, err)
	}
}
