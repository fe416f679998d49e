package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripwise.org/internal/auth"
)

// Source is everything the service reads from a directory.
type Source interface {
	auth.Directory
	auth.EmployeeLookup
	ManagerOf(ctx context.Context, employeeID string) (string, error)
}

// Bounded wraps a Source so every call runs under a deadline. Timeouts and
// backend failures are reported as ErrUnavailable; not-found errors pass through.
type Bounded struct {
	src     Source
	timeout time.Duration
}

func WithTimeout(src Source, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Bounded{src: src, timeout: timeout}
}

func (b *Bounded) DirectReports(ctx context.Context, managerID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	out, err := b.src.DirectReports(ctx, managerID)
	return out, b.wrap("direct reports", err)
}

func (b *Bounded) EmployeesInGroups(ctx context.Context, organizationID string, groups []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	out, err := b.src.EmployeesInGroups(ctx, organizationID, groups)
	return out, b.wrap("group members", err)
}

func (b *Bounded) GetEmployee(ctx context.Context, employeeID string) (auth.Employee, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	out, err := b.src.GetEmployee(ctx, employeeID)
	return out, b.wrap("employee", err)
}

func (b *Bounded) ManagerOf(ctx context.Context, employeeID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	out, err := b.src.ManagerOf(ctx, employeeID)
	return out, b.wrap("manager", err)
}

func (b *Bounded) wrap(op string, err error) error {
	if err == nil || errors.Is(err, auth.ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
