// Package approval gates approver decisions before they reach the booking
// lifecycle.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/booking"
)

// ErrSelfApproval is returned when the approver also booked the trip.
var ErrSelfApproval = fmt.Errorf("%w: approver booked this trip", auth.ErrForbidden)

// Reader loads approval requests and bookings.
type Reader interface {
	GetApproval(ctx context.Context, approvalID string) (booking.ApprovalRequest, error)
	GetBooking(ctx context.Context, bookingID string) (booking.Booking, error)
	ListPendingApprovals(ctx context.Context, approverID string) ([]booking.ApprovalRequest, error)
}

// Transitioner applies the approve and reject transitions.
type Transitioner interface {
	Approve(ctx context.Context, approvalID, approverID, reason string) (booking.Booking, error)
	Reject(ctx context.Context, approvalID, approverID, reason string) (booking.Booking, error)
}

type Handler struct {
	reader    Reader
	lifecycle Transitioner
}

func NewHandler(reader Reader, lifecycle Transitioner) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("approval reader is required")
	}
	if lifecycle == nil {
		return nil, errors.New("lifecycle is required")
	}
	return &Handler{reader: reader, lifecycle: lifecycle}, nil
}

// Approve approves a request addressed to the caller or their delegator.
func (h *Handler) Approve(ctx context.Context, p auth.Principal, approvalID, reason string) (booking.Booking, error) {
	if err := h.authorize(ctx, p, approvalID); err != nil {
		return booking.Booking{}, err
	}
	return h.lifecycle.Approve(ctx, approvalID, p.Employee.ID, reason)
}

// Reject rejects a request addressed to the caller or their delegator.
func (h *Handler) Reject(ctx context.Context, p auth.Principal, approvalID, reason string) (booking.Booking, error) {
	if err := h.authorize(ctx, p, approvalID); err != nil {
		return booking.Booking{}, err
	}
	return h.lifecycle.Reject(ctx, approvalID, p.Employee.ID, reason)
}

// Inbox lists the pending requests addressed to the caller or to anyone who
// delegated approval to them, oldest first. Callers without approve_travel
// get an empty list.
func (h *Handler) Inbox(ctx context.Context, p auth.Principal) ([]booking.ApprovalRequest, error) {
	if !p.Access.Can(auth.PermApproveTravel) {
		return []booking.ApprovalRequest{}, nil
	}
	out, err := h.reader.ListPendingApprovals(ctx, p.Employee.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range p.Access.DelegatedBy(auth.ActionApprove) {
		reqs, err := h.reader.ListPendingApprovals(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, reqs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// authorize checks, in order: the permission, the request's addressee (or
// an approval delegation from them) and state, and separation of duties
// against the booker.
func (h *Handler) authorize(ctx context.Context, p auth.Principal, approvalID string) error {
	if !p.Access.Can(auth.PermApproveTravel) {
		return fmt.Errorf("%w: approve_travel required", auth.ErrForbidden)
	}
	approvalID = strings.TrimSpace(approvalID)
	if approvalID == "" {
		return fmt.Errorf("%w: approval_id is required", booking.ErrInvalidInput)
	}
	req, err := h.reader.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if req.ApproverID != p.Employee.ID && !p.Access.Delegated(auth.ActionApprove, req.ApproverID) {
		return fmt.Errorf("%w: approval %s is assigned to another approver", auth.ErrForbidden, req.ID)
	}
	if req.Status != booking.ApprovalPending {
		return fmt.Errorf("%w: approval %s is already %s", booking.ErrInvalidState, req.ID, req.Status)
	}
	b, err := h.reader.GetBooking(ctx, req.BookingID)
	if err != nil {
		return err
	}
	if b.BookerID == p.Employee.ID {
		return ErrSelfApproval
	}
	return nil
}
