package booking

import (
	"errors"
	"strings"

	"tripwise.org/internal/policy"
)

var (
	ErrNotFound     = errors.New("booking: not found")
	ErrInvalidInput = errors.New("booking: invalid input")
	// ErrInvalidState is returned when a transition's precondition does not hold.
	ErrInvalidState = errors.New("booking: invalid state")
	// ErrPolicyBlocked is returned after a blocked submission was recorded.
	ErrPolicyBlocked = errors.New("booking: blocked by policy")
	// ErrNoApprover means approval is required but the booker has no manager.
	ErrNoApprover = errors.New("booking: no approver configured")
)

// PolicyBlockedError carries the violations behind ErrPolicyBlocked.
type PolicyBlockedError struct {
	Violations []policy.Violation
}

func (e *PolicyBlockedError) Error() string {
	reasons := policy.Reasons(e.Violations)
	if len(reasons) == 0 {
		return ErrPolicyBlocked.Error()
	}
	return ErrPolicyBlocked.Error() + ": " + strings.Join(reasons, "; ")
}

func (e *PolicyBlockedError) Unwrap() error { return ErrPolicyBlocked }
