package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/auth"
	"tripwise.org/internal/directory"
	"tripwise.org/internal/notify"
	"tripwise.org/internal/policy"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Dispatch(msgs ...notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

func (r *recordingNotifier) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.RecipientID)
	}
	return out
}

type fixture struct {
	store     *MemoryStore
	dir       *directory.Memory
	notifier  *recordingNotifier
	lifecycle *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemory(
		auth.Employee{ID: "mgr", OrganizationID: "org", FullName: "Mia Manager", JobTitle: "Director", Active: true},
		auth.Employee{ID: "emp", OrganizationID: "org", FullName: "Eli Employee", JobTitle: "Engineer", ManagerID: "mgr", Active: true},
		auth.Employee{ID: "solo", OrganizationID: "org", FullName: "Sol Solo", JobTitle: "Founder", Active: true},
		auth.Employee{ID: "loop", OrganizationID: "org", FullName: "Lou Loop", JobTitle: "Owner", ManagerID: "loop", Active: true},
	)
	store := NewMemoryStore()
	rec := &recordingNotifier{}
	lc, err := NewLifecycle(store, dir, rec)
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	return &fixture{store: store, dir: dir, notifier: rec, lifecycle: lc}
}

func (f *fixture) draft(t *testing.T, booker string) Booking {
	t.Helper()
	start := time.Now().Add(30 * 24 * time.Hour)
	b, err := f.store.CreateBooking(context.Background(), Booking{
		OrganizationID: "org",
		BookerID:       booker,
		Travelers:      []Traveler{{EmployeeID: booker, Role: RolePrimary}},
		TripName:       "Oslo offsite",
		Destination:    "Oslo",
		TravelClass:    "economy",
		TotalAmount:    decimal.NewFromInt(500),
		Currency:       "USD",
		StartDate:      &start,
		Status:         StatusDraft,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func (f *fixture) pending(t *testing.T, bookingID string) ApprovalRequest {
	t.Helper()
	reqs, err := f.store.ListPendingApprovals(context.Background(), "mgr")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	for _, r := range reqs {
		if r.BookingID == bookingID {
			return r
		}
	}
	t.Fatalf("no pending approval for %s", bookingID)
	return ApprovalRequest{}
}

var warnVerdict = policy.Verdict{
	Result:           policy.ResultWarn,
	ApprovalRequired: true,
	Violations:       []policy.Violation{{Policy: policy.RuleMaxCost, Severity: policy.SeveritySoft, Details: "Amount 1500 > Limit 1000"}},
}

func TestSubmitRoutesToManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "emp")

	out, err := f.lifecycle.Submit(ctx, b.ID, "emp", warnVerdict)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Status != StatusPendingApproval || out.PolicyStatus != policy.ResultWarn || !out.ApprovalRequired || len(out.Violations) != 1 {
		t.Fatalf("unexpected booking %+v", out)
	}
	reqs, _ := f.store.ListPendingApprovals(ctx, "mgr")
	if len(reqs) != 1 || reqs[0].BookingID != b.ID {
		t.Fatalf("expected exactly one approval for the manager, got %+v", reqs)
	}
	trail, _ := f.store.ListAudit(ctx, b.ID)
	if len(trail) != 1 || trail[0].Action != audit.ActionSubmit || trail[0].FromState != "draft" || trail[0].ToState != "pending_approval" {
		t.Fatalf("unexpected audit trail %+v", trail)
	}
	if got := f.notifier.recipients(); len(got) != 1 || got[0] != "mgr" {
		t.Fatalf("expected manager notification, got %v", got)
	}
}

func TestSubmitAutoApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "emp")

	out, err := f.lifecycle.Submit(ctx, b.ID, "emp", policy.Verdict{Result: policy.ResultPass})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", out.Status)
	}
	if reqs, _ := f.store.ListPendingApprovals(ctx, "mgr"); len(reqs) != 0 {
		t.Fatalf("auto approval must not create requests: %+v", reqs)
	}
	trail, _ := f.store.ListAudit(ctx, b.ID)
	if len(trail) != 1 || trail[0].Action != audit.ActionSubmitAutoApprove {
		t.Fatalf("unexpected audit trail %+v", trail)
	}
}

func TestSubmitBlockedCommitsThenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "emp")
	blocked := policy.Verdict{Result: policy.ResultBlock, Violations: []policy.Violation{{Policy: policy.RuleDeniedDestination, Severity: policy.SeverityHard, Details: "Travel to Oslo is not permitted"}}}

	_, err := f.lifecycle.Submit(ctx, b.ID, "emp", blocked)
	if !errors.Is(err, ErrPolicyBlocked) {
		t.Fatalf("expected ErrPolicyBlocked, got %v", err)
	}
	var pbe *PolicyBlockedError
	if !errors.As(err, &pbe) || len(pbe.Violations) != 1 {
		t.Fatalf("expected violations on the error, got %v", err)
	}
	stored, _ := f.store.GetBooking(ctx, b.ID)
	if stored.Status != StatusRejected || stored.PolicyStatus != policy.ResultBlock {
		t.Fatalf("blocked submission not recorded: %+v", stored)
	}
	trail, _ := f.store.ListAudit(ctx, b.ID)
	if len(trail) != 1 || trail[0].Action != audit.ActionSubmitBlocked {
		t.Fatalf("unexpected audit trail %+v", trail)
	}
	if reqs, _ := f.store.ListPendingApprovals(ctx, "mgr"); len(reqs) != 0 {
		t.Fatalf("blocked booking must not be routed: %+v", reqs)
	}
}

func TestSubmitWithoutManagerLeavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "solo")

	if _, err := f.lifecycle.Submit(ctx, b.ID, "solo", warnVerdict); !errors.Is(err, ErrNoApprover) {
		t.Fatalf("expected ErrNoApprover, got %v", err)
	}
	stored, _ := f.store.GetBooking(ctx, b.ID)
	if stored.Status != StatusDraft || stored.PolicyStatus != "" {
		t.Fatalf("failed submission must not change the booking: %+v", stored)
	}
	if trail, _ := f.store.ListAudit(ctx, b.ID); len(trail) != 0 {
		t.Fatalf("failed submission must not be audited: %+v", trail)
	}
}

func TestSubmitSelfManagedLeavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "loop")

	if _, err := f.lifecycle.Submit(ctx, b.ID, "loop", warnVerdict); !errors.Is(err, ErrNoApprover) {
		t.Fatalf("expected ErrNoApprover, got %v", err)
	}
	stored, _ := f.store.GetBooking(ctx, b.ID)
	if stored.Status != StatusDraft {
		t.Fatalf("booking must stay draft, got %s", stored.Status)
	}
	if reqs, _ := f.store.ListPendingApprovals(ctx, "loop"); len(reqs) != 0 {
		t.Fatalf("booker must never be routed their own request: %+v", reqs)
	}
	if trail, _ := f.store.ListAudit(ctx, b.ID); len(trail) != 0 {
		t.Fatalf("failed submission must not be audited: %+v", trail)
	}
}

type unavailableManagers struct{}

func (unavailableManagers) ManagerOf(context.Context, string) (string, error) {
	return "", directory.ErrUnavailable
}

func TestSubmitFailsWhenManagerLookupUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lc, err := NewLifecycle(f.store, unavailableManagers{}, f.notifier)
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	b := f.draft(t, "emp")

	if _, err := lc.Submit(ctx, b.ID, "emp", warnVerdict); !errors.Is(err, directory.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	stored, _ := f.store.GetBooking(ctx, b.ID)
	if stored.Status != StatusDraft || stored.PolicyStatus != "" {
		t.Fatalf("failed submission must not change the booking: %+v", stored)
	}
	if reqs, _ := f.store.ListPendingApprovals(ctx, "mgr"); len(reqs) != 0 {
		t.Fatalf("no approval may be created: %+v", reqs)
	}
	if trail, _ := f.store.ListAudit(ctx, b.ID); len(trail) != 0 {
		t.Fatalf("failed submission must not be audited: %+v", trail)
	}
	if got := f.notifier.recipients(); len(got) != 0 {
		t.Fatalf("nothing should be sent, got %v", got)
	}
}

func TestSubmitTwiceFails(t *testing.T) {
	f := newFixture(t)
	b := f.draft(t, "emp")
	if _, err := f.lifecycle.Submit(context.Background(), b.ID, "emp", warnVerdict); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.lifecycle.Submit(context.Background(), b.ID, "emp", warnVerdict); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestApproveAndRejectResolveRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.draft(t, "emp")
	if _, err := f.lifecycle.Submit(ctx, b.ID, "emp", warnVerdict); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := f.pending(t, b.ID)
	out, err := f.lifecycle.Approve(ctx, req.ID, "mgr", " fine ")
	if err != nil || out.Status != StatusApproved {
		t.Fatalf("approve: %+v err=%v", out, err)
	}
	resolved, _ := f.store.GetApproval(ctx, req.ID)
	if resolved.Status != ApprovalApproved || resolved.Reason != "fine" || resolved.ResolvedAt == nil {
		t.Fatalf("request not resolved: %+v", resolved)
	}
	if _, err := f.lifecycle.Reject(ctx, req.ID, "mgr", "late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject after approve: expected ErrInvalidState, got %v", err)
	}

	b2 := f.draft(t, "emp")
	if _, err := f.lifecycle.Submit(ctx, b2.ID, "emp", warnVerdict); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req2 := f.pending(t, b2.ID)
	out, err = f.lifecycle.Reject(ctx, req2.ID, "mgr", "no budget")
	if err != nil || out.Status != StatusRejected {
		t.Fatalf("reject: %+v err=%v", out, err)
	}
	trail, _ := f.store.ListAudit(ctx, b2.ID)
	if len(trail) != 2 || trail[1].Action != audit.ActionReject || trail[1].Details["reason"] != "no budget" {
		t.Fatalf("unexpected audit trail %+v", trail)
	}
}

func TestConcurrentApproveSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "emp")
	if _, err := f.lifecycle.Submit(ctx, b.ID, "emp", warnVerdict); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := f.pending(t, b.ID)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		invalid int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			var err error
			if approve {
				_, err = f.lifecycle.Approve(ctx, req.ID, "mgr", "")
			} else {
				_, err = f.lifecycle.Reject(ctx, req.ID, "mgr", "")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrInvalidState):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if success != 1 || invalid != workers-1 {
		t.Fatalf("expected exactly one winner, got success=%d invalid=%d", success, invalid)
	}
	trail, _ := f.store.ListAudit(ctx, b.ID)
	if len(trail) != 2 {
		t.Fatalf("expected submit + one review in the trail, got %d entries", len(trail))
	}
}

func TestCancelClosesPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.draft(t, "emp")
	if _, err := f.lifecycle.Submit(ctx, b.ID, "emp", warnVerdict); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := f.pending(t, b.ID)

	out, err := f.lifecycle.Cancel(ctx, b.ID, "emp", "trip postponed")
	if err != nil || out.Status != StatusCancelled {
		t.Fatalf("cancel: %+v err=%v", out, err)
	}
	closed, _ := f.store.GetApproval(ctx, req.ID)
	if closed.Status != ApprovalRejected || closed.Reason != "trip postponed" {
		t.Fatalf("pending request not closed: %+v", closed)
	}
	if _, err := f.lifecycle.Cancel(ctx, b.ID, "emp", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second cancel: expected ErrInvalidState, got %v", err)
	}
}

func TestLifecycleUnknownBooking(t *testing.T) {
	f := newFixture(t)
	if _, err := f.lifecycle.Submit(context.Background(), "missing", "emp", warnVerdict); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.lifecycle.Approve(context.Background(), "missing", "mgr", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
