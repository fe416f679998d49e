package booking

import (
	"fmt"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/policy"
)

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusPolicyEvaluated || to == StatusPendingApproval || to == StatusApproved ||
			to == StatusRejected || to == StatusCancelled
	case StatusPolicyEvaluated:
		return to == StatusPendingApproval || to == StatusApproved || to == StatusRejected
	case StatusPendingApproval:
		return to == StatusApproved || to == StatusRejected || to == StatusCancelled
	case StatusApproved:
		return to == StatusConfirmed || to == StatusRequiresAttention || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusRequiresAttention || to == StatusCancelled
	case StatusRequiresAttention:
		return to == StatusConfirmed || to == StatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s Status) bool {
	return s == StatusRejected || s == StatusCancelled
}

// Recipient selects who a plan notifies.
type Recipient string

const (
	NotifyBooker   Recipient = "booker"
	NotifyApprover Recipient = "approver"
)

// Notice is a notification a plan sends once it has been committed.
type Notice struct {
	To      Recipient
	Subject string
}

// Plan is the decided outcome of a lifecycle operation. It is computed
// from a snapshot without side effects and applied by Lifecycle.
type Plan struct {
	Action audit.Action
	From   Status
	To     Status

	// Verdict is recorded on the booking when set.
	Verdict *policy.Verdict
	// NeedsApprover asks the applier to route a new approval request.
	NeedsApprover bool
	ApproverID    string

	// Resolve closes the given approval request with ResolveAs.
	Resolve   *ApprovalRequest
	ResolveAs ApprovalStatus
	Reason    string

	Notices []Notice
	// Err is returned to the caller after the plan was committed.
	Err error
}

func invalidState(op string, s Status) error {
	return fmt.Errorf("%w: cannot %s a booking in status %s", ErrInvalidState, op, s)
}

// DecideSubmit plans the submission of a draft with an already computed verdict.
func DecideSubmit(b Booking, v policy.Verdict) (Plan, error) {
	if b.Status != StatusDraft {
		return Plan{}, invalidState("submit", b.Status)
	}
	verdict := v
	p := Plan{From: b.Status, Verdict: &verdict}

	switch {
	case v.Result == policy.ResultBlock:
		p.Action = audit.ActionSubmitBlocked
		p.To = StatusRejected
		p.Notices = []Notice{{To: NotifyBooker, Subject: "Booking blocked by policy"}}
		p.Err = &PolicyBlockedError{Violations: v.Violations}
	case v.ApprovalRequired:
		p.Action = audit.ActionSubmit
		p.To = StatusPendingApproval
		p.NeedsApprover = true
		p.Notices = []Notice{{To: NotifyApprover, Subject: "Booking awaiting your approval"}}
	default:
		p.Action = audit.ActionSubmitAutoApprove
		p.To = StatusApproved
		p.Notices = []Notice{{To: NotifyBooker, Subject: "Booking approved"}}
	}
	if !CanTransition(p.From, p.To) {
		return Plan{}, invalidState("submit", b.Status)
	}
	return p, nil
}

// DecideReview plans an approver's decision on a pending request.
func DecideReview(b Booking, req ApprovalRequest, approve bool, reason string) (Plan, error) {
	op := "reject"
	if approve {
		op = "approve"
	}
	if b.Status != StatusPendingApproval {
		return Plan{}, invalidState(op, b.Status)
	}
	if req.BookingID != b.ID {
		return Plan{}, fmt.Errorf("%w: approval %s belongs to another booking", ErrInvalidState, req.ID)
	}
	if req.Status != ApprovalPending {
		return Plan{}, fmt.Errorf("%w: approval %s is already %s", ErrInvalidState, req.ID, req.Status)
	}
	r := req
	p := Plan{From: b.Status, Resolve: &r, Reason: reason, ApproverID: req.ApproverID}
	if approve {
		p.Action, p.To, p.ResolveAs = audit.ActionApprove, StatusApproved, ApprovalApproved
		p.Notices = []Notice{{To: NotifyBooker, Subject: "Booking approved"}}
	} else {
		p.Action, p.To, p.ResolveAs = audit.ActionReject, StatusRejected, ApprovalRejected
		p.Notices = []Notice{{To: NotifyBooker, Subject: "Booking rejected"}}
	}
	return p, nil
}

// DecideCancel plans a cancellation. A pending request, when given, is
// closed as rejected.
func DecideCancel(b Booking, pending *ApprovalRequest, reason string) (Plan, error) {
	if IsTerminal(b.Status) || !CanTransition(b.Status, StatusCancelled) {
		return Plan{}, invalidState("cancel", b.Status)
	}
	p := Plan{
		Action:  audit.ActionCancel,
		From:    b.Status,
		To:      StatusCancelled,
		Reason:  reason,
		Notices: []Notice{{To: NotifyBooker, Subject: "Booking cancelled"}},
	}
	if pending != nil && pending.Status == ApprovalPending {
		r := *pending
		p.Resolve, p.ResolveAs, p.ApproverID = &r, ApprovalRejected, r.ApproverID
		p.Notices = append(p.Notices, Notice{To: NotifyApprover, Subject: "Booking withdrawn"})
	}
	return p, nil
}
