package booking

import (
	"context"

	"tripwise.org/internal/audit"
)

// Tx is the transactional view of one locked booking. Writes become
// visible only when the enclosing WithBooking call commits.
type Tx interface {
	Booking() Booking
	SaveBooking(ctx context.Context, b Booking) error
	GetApproval(ctx context.Context, approvalID string) (ApprovalRequest, error)
	PendingApproval(ctx context.Context) (*ApprovalRequest, error)
	CreateApproval(ctx context.Context, req ApprovalRequest) (ApprovalRequest, error)
	SaveApproval(ctx context.Context, req ApprovalRequest) error
	AppendAudit(ctx context.Context, e audit.Entry) error
}

// Store persists bookings, approval requests and the audit trail.
type Store interface {
	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	GetApproval(ctx context.Context, approvalID string) (ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context, approverID string) ([]ApprovalRequest, error)
	ListAudit(ctx context.Context, bookingID string) ([]audit.Entry, error)
	// WithBooking runs fn with the booking locked against concurrent
	// transitions and commits when fn returns nil.
	WithBooking(ctx context.Context, bookingID string, fn func(tx Tx) error) error
}
