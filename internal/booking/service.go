package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/auth"
	"tripwise.org/internal/policy"
)

// Directory is what the booking service reads about employees.
type Directory interface {
	auth.Directory
	auth.EmployeeLookup
}

// Service is the request-facing entry point for bookings. It authorizes the
// caller, evaluates policy and delegates status changes to Lifecycle.
type Service struct {
	store     Store
	lifecycle *Lifecycle
	engine    *policy.Engine
	settings  policy.SettingsSource
	dir       Directory
}

func NewService(store Store, lifecycle *Lifecycle, engine *policy.Engine, settings policy.SettingsSource, dir Directory) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("booking store is required")
	case lifecycle == nil:
		return nil, errors.New("lifecycle is required")
	case engine == nil:
		return nil, errors.New("policy engine is required")
	case dir == nil:
		return nil, errors.New("directory is required")
	}
	return &Service{store: store, lifecycle: lifecycle, engine: engine, settings: settings, dir: dir}, nil
}

// CreateInput describes a new draft. The first traveler is the primary one.
// TotalAmount is rounded to cents when the draft is stored.
type CreateInput struct {
	TravelerIDs []string
	TripName    string
	Destination string
	TravelClass string
	TotalAmount decimal.Decimal
	Currency    string
	StartDate   *time.Time
	EndDate     *time.Time
}

var bookingPermissions = []auth.Permission{auth.PermBookFlights, auth.PermBookHotels, auth.PermBookGround}

// CreateDraft stores a draft booking on behalf of the caller.
func (s *Service) CreateDraft(ctx context.Context, p auth.Principal, in CreateInput) (Booking, error) {
	if !p.Access.CanAny(bookingPermissions...) {
		return Booking{}, fmt.Errorf("%w: booking permission required", auth.ErrForbidden)
	}
	travelerIDs := dedupe(in.TravelerIDs)
	if len(travelerIDs) == 0 {
		return Booking{}, fmt.Errorf("%w: at least one traveler is required", ErrInvalidInput)
	}
	if in.TotalAmount.IsNegative() {
		return Booking{}, fmt.Errorf("%w: total_amount must not be negative", ErrInvalidInput)
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return Booking{}, fmt.Errorf("%w: end_date is before start_date", ErrInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return Booking{}, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidInput)
	}

	for _, id := range travelerIDs {
		ok, err := auth.CanActForExpanded(ctx, p.Access, s.dir, auth.ActionBook, id)
		if err != nil {
			return Booking{}, err
		}
		if !ok {
			return Booking{}, fmt.Errorf("%w: cannot book for %s", auth.ErrForbidden, id)
		}
	}
	if _, err := s.travelers(ctx, p.Employee.OrganizationID, travelerIDs); err != nil {
		return Booking{}, err
	}

	travelers := make([]Traveler, 0, len(travelerIDs))
	for i, id := range travelerIDs {
		role := RoleAdditional
		if i == 0 {
			role = RolePrimary
		}
		travelers = append(travelers, Traveler{EmployeeID: id, Role: role})
	}
	return s.store.CreateBooking(ctx, Booking{
		OrganizationID: p.Employee.OrganizationID,
		BookerID:       p.Employee.ID,
		Travelers:      travelers,
		TripName:       strings.TrimSpace(in.TripName),
		Destination:    strings.TrimSpace(in.Destination),
		TravelClass:    strings.ToLower(strings.TrimSpace(in.TravelClass)),
		TotalAmount:    in.TotalAmount.Round(2),
		Currency:       currency,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		Status:         StatusDraft,
	})
}

// Get returns a booking the caller may view.
func (s *Service) Get(ctx context.Context, p auth.Principal, bookingID string) (Booking, error) {
	b, err := s.load(ctx, p, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if b.Involves(p.Employee.ID) || p.Access.Can(auth.PermViewAllBookings) {
		return b, nil
	}
	if p.Access.Delegated(auth.ActionView, b.BookerID) {
		return b, nil
	}
	for _, id := range b.TravelerIDs() {
		if p.Access.Delegated(auth.ActionView, id) {
			return b, nil
		}
	}
	if p.Access.Can(auth.PermViewTeamBookings) {
		expanded, err := auth.Expand(ctx, p.Access, s.dir, auth.ActionView)
		if err != nil {
			return Booking{}, err
		}
		if expanded.Contains(b.BookerID) {
			return b, nil
		}
		for _, id := range b.TravelerIDs() {
			if expanded.Contains(id) {
				return b, nil
			}
		}
	}
	return Booking{}, fmt.Errorf("%w: booking %s not visible", auth.ErrForbidden, b.ID)
}

// Submit evaluates policy for a draft and hands the verdict to the lifecycle.
func (s *Service) Submit(ctx context.Context, p auth.Principal, bookingID string) (Booking, policy.Verdict, error) {
	b, err := s.actOnBooking(ctx, p, bookingID)
	if err != nil {
		return Booking{}, policy.Verdict{}, err
	}
	if b.Status != StatusDraft {
		return Booking{}, policy.Verdict{}, invalidState("submit", b.Status)
	}
	travelers, err := s.travelers(ctx, b.OrganizationID, b.TravelerIDs())
	if err != nil {
		return Booking{}, policy.Verdict{}, err
	}
	settings, err := policy.Load(ctx, s.settings, b.OrganizationID)
	if err != nil {
		return Booking{}, policy.Verdict{}, err
	}
	verdict := s.engine.Evaluate(b.PolicySubject(), travelers, settings)
	out, err := s.lifecycle.Submit(ctx, b.ID, p.Employee.ID, verdict)
	return out, verdict, err
}

// Cancel withdraws a booking the caller booked or may act for.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, bookingID, reason string) (Booking, error) {
	b, err := s.actOnBooking(ctx, p, bookingID)
	if err != nil {
		return Booking{}, err
	}
	return s.lifecycle.Cancel(ctx, b.ID, p.Employee.ID, reason)
}

// History returns the audit trail of a visible booking.
func (s *Service) History(ctx context.Context, p auth.Principal, bookingID string) ([]audit.Entry, error) {
	b, err := s.Get(ctx, p, bookingID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, b.ID)
}

func (s *Service) actOnBooking(ctx context.Context, p auth.Principal, bookingID string) (Booking, error) {
	b, err := s.load(ctx, p, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if b.BookerID == p.Employee.ID {
		return b, nil
	}
	ok, err := auth.CanActForExpanded(ctx, p.Access, s.dir, auth.ActionBook, b.BookerID)
	if err != nil {
		return Booking{}, err
	}
	if !ok {
		return Booking{}, fmt.Errorf("%w: cannot act on booking %s", auth.ErrForbidden, b.ID)
	}
	return b, nil
}

func (s *Service) load(ctx context.Context, p auth.Principal, bookingID string) (Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Booking{}, fmt.Errorf("%w: booking_id is required", ErrInvalidInput)
	}
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if b.OrganizationID != p.Employee.OrganizationID {
		return Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return b, nil
}

func (s *Service) travelers(ctx context.Context, organizationID string, travelerIDs []string) ([]auth.Employee, error) {
	out := make([]auth.Employee, 0, len(travelerIDs))
	for _, id := range travelerIDs {
		e, err := s.dir.GetEmployee(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.OrganizationID != organizationID || !e.Active {
			return nil, fmt.Errorf("%w: traveler %s", ErrNotFound, id)
		}
		out = append(out, e)
	}
	return out, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
