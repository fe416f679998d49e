package directory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"tripwise.org/internal/auth"
)

func sampleDirectory() *Memory {
	return NewMemory(
		auth.Employee{ID: "ceo", OrganizationID: "org", Department: "Exec", Active: true},
		auth.Employee{ID: "m1", OrganizationID: "org", Department: "Sales", ManagerID: "ceo", Active: true},
		auth.Employee{ID: "e1", OrganizationID: "org", Department: "sales", ManagerID: "m1", Active: true},
		auth.Employee{ID: "e2", OrganizationID: "org", Department: "Eng", ManagerID: "m1", Active: false},
		auth.Employee{ID: "x1", OrganizationID: "other", Department: "Sales", Active: true},
		auth.Employee{ID: "orphan", OrganizationID: "org", ManagerID: "e2", Active: true},
	)
}

func TestMemoryDirectReportsSkipsInactive(t *testing.T) {
	dir := sampleDirectory()
	got, err := dir.DirectReports(context.Background(), "m1")
	if err != nil || !reflect.DeepEqual(got, []string{"e1"}) {
		t.Fatalf("unexpected reports %v err=%v", got, err)
	}
}

func TestMemoryGroupsAreOrgScoped(t *testing.T) {
	dir := sampleDirectory()
	got, _ := dir.EmployeesInGroups(context.Background(), "org", []string{"SALES"})
	if !reflect.DeepEqual(got, []string{"e1", "m1"}) {
		t.Fatalf("unexpected members %v", got)
	}
}

func TestMemoryManagerOf(t *testing.T) {
	dir := sampleDirectory()
	ctx := context.Background()
	if id, err := dir.ManagerOf(ctx, "e1"); err != nil || id != "m1" {
		t.Fatalf("ManagerOf(e1) = %q, %v", id, err)
	}
	if id, _ := dir.ManagerOf(ctx, "ceo"); id != "" {
		t.Fatalf("ceo should have no manager, got %q", id)
	}
	if id, _ := dir.ManagerOf(ctx, "orphan"); id != "" {
		t.Fatalf("inactive manager must not route, got %q", id)
	}
	if _, err := dir.ManagerOf(ctx, "nobody"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPutMovesReport(t *testing.T) {
	dir := sampleDirectory()
	dir.Put(auth.Employee{ID: "e1", OrganizationID: "org", ManagerID: "ceo", Active: true})
	got, _ := dir.DirectReports(context.Background(), "m1")
	if len(got) != 0 {
		t.Fatalf("e1 still reports to m1: %v", got)
	}
	got, _ = dir.DirectReports(context.Background(), "ceo")
	if !reflect.DeepEqual(got, []string{"e1", "m1"}) {
		t.Fatalf("unexpected ceo reports %v", got)
	}
}

type slowSource struct{ *Memory }

func (s slowSource) DirectReports(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithTimeoutReportsUnavailable(t *testing.T) {
	b := WithTimeout(slowSource{sampleDirectory()}, 10*time.Millisecond)
	_, err := b.DirectReports(context.Background(), "m1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := b.GetEmployee(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("not found should pass through, got %v", err)
	}
	acc := auth.Resolve(auth.Employee{ID: "m1", OrganizationID: "org"}, []auth.Assignment{{
		Active: true, Scope: auth.ScopeHierarchy, Template: &auth.RoleTemplate{},
	}})
	if ok, err := auth.CanActForExpanded(context.Background(), acc, b, auth.ActionBook, "e1"); ok || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expansion should fail closed, ok=%v err=%v", ok, err)
	}
}
