package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/notify"
	"tripwise.org/internal/obs"
	"tripwise.org/internal/policy"
)

// ManagerLookup resolves the approver of a booker. An empty id with a nil
// error means the booker has no manager.
type ManagerLookup interface {
	ManagerOf(ctx context.Context, employeeID string) (string, error)
}

// Notifier queues notifications without blocking.
type Notifier interface {
	Dispatch(msgs ...notify.Message)
}

// Lifecycle owns every booking status change. Each operation decides a Plan
// from a locked snapshot, applies it in one transaction and only then emits
// metrics, audit log lines and notifications.
type Lifecycle struct {
	store    Store
	managers ManagerLookup
	notifier Notifier
	now      func() time.Time
}

func NewLifecycle(store Store, managers ManagerLookup, notifier Notifier) (*Lifecycle, error) {
	if store == nil {
		return nil, errors.New("booking store is required")
	}
	if managers == nil {
		return nil, errors.New("manager lookup is required")
	}
	return &Lifecycle{store: store, managers: managers, notifier: notifier, now: time.Now}, nil
}

// Submit records the verdict on a draft and routes it: blocked bookings are
// rejected, bookings needing approval go to the booker's manager, the rest
// are approved. A blocked submission is committed before ErrPolicyBlocked
// is returned.
func (l *Lifecycle) Submit(ctx context.Context, bookingID, actorID string, verdict policy.Verdict) (Booking, error) {
	return l.run(ctx, "booking.Submit", bookingID, actorID, func(ctx context.Context, tx Tx) (Plan, error) {
		b := tx.Booking()
		p, err := DecideSubmit(b, verdict)
		if err != nil {
			return Plan{}, err
		}
		if p.NeedsApprover {
			managerID, err := l.managers.ManagerOf(ctx, b.BookerID)
			if err != nil {
				return Plan{}, fmt.Errorf("resolve approver for %s: %w", b.BookerID, err)
			}
			if strings.TrimSpace(managerID) == "" {
				return Plan{}, fmt.Errorf("%w: booker %s has no manager", ErrNoApprover, b.BookerID)
			}
			if managerID == b.BookerID {
				return Plan{}, fmt.Errorf("%w: booker %s is their own manager", ErrNoApprover, b.BookerID)
			}
			p.ApproverID = managerID
		}
		return p, nil
	})
}

// Approve resolves a pending approval request in favour of the booking.
func (l *Lifecycle) Approve(ctx context.Context, approvalID, approverID, reason string) (Booking, error) {
	return l.review(ctx, "booking.Approve", approvalID, approverID, reason, true)
}

// Reject resolves a pending approval request and rejects the booking.
func (l *Lifecycle) Reject(ctx context.Context, approvalID, approverID, reason string) (Booking, error) {
	return l.review(ctx, "booking.Reject", approvalID, approverID, reason, false)
}

func (l *Lifecycle) review(ctx context.Context, span, approvalID, approverID, reason string, approve bool) (Booking, error) {
	req, err := l.store.GetApproval(ctx, approvalID)
	if err != nil {
		return Booking{}, err
	}
	return l.run(ctx, span, req.BookingID, approverID, func(ctx context.Context, tx Tx) (Plan, error) {
		locked, err := tx.GetApproval(ctx, approvalID)
		if err != nil {
			return Plan{}, err
		}
		return DecideReview(tx.Booking(), locked, approve, strings.TrimSpace(reason))
	})
}

// Cancel withdraws a booking from any non-terminal state.
func (l *Lifecycle) Cancel(ctx context.Context, bookingID, actorID, reason string) (Booking, error) {
	return l.run(ctx, "booking.Cancel", bookingID, actorID, func(ctx context.Context, tx Tx) (Plan, error) {
		pending, err := tx.PendingApproval(ctx)
		if err != nil {
			return Plan{}, err
		}
		return DecideCancel(tx.Booking(), pending, strings.TrimSpace(reason))
	})
}

type decideFunc func(ctx context.Context, tx Tx) (Plan, error)

func (l *Lifecycle) run(ctx context.Context, spanName, bookingID, actorID string, decide decideFunc) (Booking, error) {
	ctx, span := obs.Tracer().Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("actor.id", actorID))

	var (
		plan  Plan
		out   Booking
		entry audit.Entry
	)
	err := l.store.WithBooking(ctx, bookingID, func(tx Tx) error {
		p, err := decide(ctx, tx)
		if err != nil {
			return err
		}
		b, e, err := l.apply(ctx, tx, p, actorID)
		if err != nil {
			return err
		}
		plan, out, entry = p, b, e
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Booking{}, err
	}

	span.SetAttributes(attribute.String("booking.from", string(plan.From)), attribute.String("booking.to", string(plan.To)))
	obs.RecordTransition(string(plan.Action), string(plan.From), string(plan.To))
	if err := audit.LogEvent(ctx, entry); err != nil {
		obs.Logger().Warn("audit_log_failed", zap.String("booking_id", out.ID), zap.Error(err))
	}
	l.notify(out, plan)
	return out, plan.Err
}

func (l *Lifecycle) apply(ctx context.Context, tx Tx, p Plan, actorID string) (Booking, audit.Entry, error) {
	now := l.now().UTC()
	b := tx.Booking()
	details := map[string]any{}

	if p.Verdict != nil {
		b.PolicyStatus = p.Verdict.Result
		b.ApprovalRequired = p.Verdict.ApprovalRequired
		b.Violations = append([]policy.Violation(nil), p.Verdict.Violations...)
		details["policy_result"] = string(p.Verdict.Result)
		details["approval_required"] = p.Verdict.ApprovalRequired
		if len(p.Verdict.Violations) > 0 {
			details["violations"] = policy.Reasons(p.Verdict.Violations)
		}
	}
	b.Status = p.To
	b.UpdatedAt = now
	if err := tx.SaveBooking(ctx, b); err != nil {
		return Booking{}, audit.Entry{}, fmt.Errorf("save booking: %w", err)
	}

	if p.NeedsApprover {
		req, err := tx.CreateApproval(ctx, ApprovalRequest{
			BookingID:  b.ID,
			ApproverID: p.ApproverID,
			Status:     ApprovalPending,
		})
		if err != nil {
			return Booking{}, audit.Entry{}, fmt.Errorf("create approval: %w", err)
		}
		details["approval_id"] = req.ID
		details["approver_id"] = req.ApproverID
	}
	if p.Resolve != nil {
		req := *p.Resolve
		req.Status = p.ResolveAs
		req.Reason = p.Reason
		req.ResolvedAt = &now
		if err := tx.SaveApproval(ctx, req); err != nil {
			return Booking{}, audit.Entry{}, fmt.Errorf("save approval: %w", err)
		}
		details["approval_id"] = req.ID
		details["approver_id"] = req.ApproverID
	}
	if p.Reason != "" {
		details["reason"] = p.Reason
	}

	entry := audit.NewEntry(b.ID, actorID, p.Action, string(p.From), string(p.To), details)
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return Booking{}, audit.Entry{}, fmt.Errorf("append audit: %w", err)
	}
	return b, entry, nil
}

func (l *Lifecycle) notify(b Booking, p Plan) {
	if l.notifier == nil || len(p.Notices) == 0 {
		return
	}
	msgs := make([]notify.Message, 0, len(p.Notices))
	for _, n := range p.Notices {
		to := b.BookerID
		if n.To == NotifyApprover {
			to = p.ApproverID
		}
		msgs = append(msgs, notify.Message{RecipientID: to, Subject: n.Subject, Body: summary(b)})
	}
	l.notifier.Dispatch(msgs...)
}

func summary(b Booking) string {
	name := b.TripName
	if name == "" {
		name = b.ID
	}
	return fmt.Sprintf("%s (%s): %s", name, b.Destination, b.Status)
}
