package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tripwise.org/internal/audit"
	"tripwise.org/internal/ids"
	"tripwise.org/internal/policy"
)

// MemoryStore keeps bookings in process. Each booking has its own mutex so
// transitions on one booking are serialized while others proceed.
type MemoryStore struct {
	mu        sync.RWMutex
	bookings  map[string]Booking
	approvals map[string]ApprovalRequest
	audit     map[string][]audit.Entry
	locks     map[string]*sync.Mutex
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string]Booking),
		approvals: make(map[string]ApprovalRequest),
		audit:     make(map[string][]audit.Entry),
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

func (m *MemoryStore) CreateBooking(_ context.Context, b Booking) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	b.ID = ids.New()
	b.CreatedAt, b.UpdatedAt = now, now
	b = cloneBooking(b)
	m.bookings[b.ID] = b
	m.locks[b.ID] = &sync.Mutex{}
	return cloneBooking(b), nil
}

func (m *MemoryStore) GetBooking(_ context.Context, bookingID string) (Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return cloneBooking(b), nil
}

func (m *MemoryStore) GetApproval(_ context.Context, approvalID string) (ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.approvals[approvalID]
	if !ok {
		return ApprovalRequest{}, fmt.Errorf("%w: approval %s", ErrNotFound, approvalID)
	}
	return req, nil
}

func (m *MemoryStore) ListPendingApprovals(_ context.Context, approverID string) ([]ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ApprovalRequest, 0)
	for _, req := range m.approvals {
		if req.ApproverID == approverID && req.Status == ApprovalPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListAudit(_ context.Context, bookingID string) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]audit.Entry(nil), m.audit[bookingID]...), nil
}

func (m *MemoryStore) WithBooking(ctx context.Context, bookingID string, fn func(tx Tx) error) error {
	m.mu.RLock()
	lock, ok := m.locks[bookingID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	tx := &memTx{store: m, booking: cloneBooking(m.bookings[bookingID]), approvals: map[string]ApprovalRequest{}}
	m.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[bookingID] = tx.booking
	for id, req := range tx.approvals {
		m.approvals[id] = req
	}
	m.audit[bookingID] = append(m.audit[bookingID], tx.entries...)
	return nil
}

type memTx struct {
	store     *MemoryStore
	booking   Booking
	approvals map[string]ApprovalRequest
	entries   []audit.Entry
}

func (t *memTx) Booking() Booking { return cloneBooking(t.booking) }

func (t *memTx) SaveBooking(_ context.Context, b Booking) error {
	if b.ID != t.booking.ID {
		return fmt.Errorf("%w: transaction is bound to booking %s", ErrInvalidInput, t.booking.ID)
	}
	t.booking = cloneBooking(b)
	return nil
}

func (t *memTx) GetApproval(_ context.Context, approvalID string) (ApprovalRequest, error) {
	if req, ok := t.approvals[approvalID]; ok {
		return req, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	req, ok := t.store.approvals[approvalID]
	if !ok || req.BookingID != t.booking.ID {
		return ApprovalRequest{}, fmt.Errorf("%w: approval %s", ErrNotFound, approvalID)
	}
	return req, nil
}

func (t *memTx) PendingApproval(_ context.Context) (*ApprovalRequest, error) {
	for _, req := range t.approvals {
		if req.Status == ApprovalPending {
			r := req
			return &r, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, req := range t.store.approvals {
		if req.BookingID != t.booking.ID || req.Status != ApprovalPending {
			continue
		}
		if _, shadowed := t.approvals[req.ID]; shadowed {
			continue
		}
		r := req
		return &r, nil
	}
	return nil, nil
}

func (t *memTx) CreateApproval(_ context.Context, req ApprovalRequest) (ApprovalRequest, error) {
	req.ID = ids.New()
	req.BookingID = t.booking.ID
	req.CreatedAt = t.store.now().UTC()
	t.approvals[req.ID] = req
	return req, nil
}

func (t *memTx) SaveApproval(_ context.Context, req ApprovalRequest) error {
	if req.BookingID != t.booking.ID {
		return fmt.Errorf("%w: approval %s belongs to another booking", ErrInvalidInput, req.ID)
	}
	t.approvals[req.ID] = req
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e audit.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func cloneBooking(b Booking) Booking {
	b.Travelers = append([]Traveler(nil), b.Travelers...)
	b.Violations = append([]policy.Violation(nil), b.Violations...)
	if b.StartDate != nil {
		t := *b.StartDate
		b.StartDate = &t
	}
	if b.EndDate != nil {
		t := *b.EndDate
		b.EndDate = &t
	}
	return b
}
