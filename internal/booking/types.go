package booking

import (
	"time"

	"github.com/shopspring/decimal"

	"tripwise.org/internal/policy"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPolicyEvaluated   Status = "policy_evaluated"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusConfirmed         Status = "confirmed"
	StatusRejected          Status = "rejected"
	StatusRequiresAttention Status = "requires_attention"
	StatusCancelled         Status = "cancelled"
)

// TravelerRole distinguishes the primary traveler from companions.
type TravelerRole string

const (
	RolePrimary    TravelerRole = "primary"
	RoleAdditional TravelerRole = "additional"
)

type Traveler struct {
	EmployeeID string       `json:"employee_id"`
	Role       TravelerRole `json:"role"`
}

// Booking is a proposed trip for one or more travelers.
type Booking struct {
	ID               string             `json:"id"`
	OrganizationID   string             `json:"organization_id"`
	BookerID         string             `json:"booker_id"`
	Travelers        []Traveler         `json:"travelers"`
	TripName         string             `json:"trip_name,omitempty"`
	Destination      string             `json:"destination,omitempty"`
	TravelClass      string             `json:"travel_class,omitempty"`
	TotalAmount      decimal.Decimal    `json:"total_amount"`
	Currency         string             `json:"currency"`
	StartDate        *time.Time         `json:"start_date,omitempty"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	Status           Status             `json:"status"`
	PolicyStatus     policy.Result      `json:"policy_status,omitempty"`
	ApprovalRequired bool               `json:"approval_required"`
	Violations       []policy.Violation `json:"violations,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PolicySubject returns the fields the policy engine evaluates.
func (b Booking) PolicySubject() policy.Subject {
	return policy.Subject{
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		TravelClass: b.TravelClass,
		Destination: b.Destination,
		StartDate:   b.StartDate,
	}
}

// TravelerIDs returns traveler ids in booking order, primary first.
func (b Booking) TravelerIDs() []string {
	out := make([]string, 0, len(b.Travelers))
	for _, t := range b.Travelers {
		out = append(out, t.EmployeeID)
	}
	return out
}

// Involves reports whether id is the booker or one of the travelers.
func (b Booking) Involves(id string) bool {
	if b.BookerID == id {
		return true
	}
	for _, t := range b.Travelers {
		if t.EmployeeID == id {
			return true
		}
	}
	return false
}

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest asks one approver to decide on one submitted booking.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	BookingID  string         `json:"booking_id"`
	ApproverID string         `json:"approver_id"`
	Status     ApprovalStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}
