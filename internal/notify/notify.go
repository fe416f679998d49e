// Package notify delivers booking notifications after a transition commits.
// Delivery is fire-and-forget: a failure is logged and counted but never
// undoes the transition that produced it.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/obs"
)

// DeliveryFailurePolicy applies to every Sender failure.
const DeliveryFailurePolicy = auth.FailOpen

// Sender delivers one message to one address.
type Sender interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Message is a queued notification for an employee.
type Message struct {
	RecipientID string
	Subject     string
	Body        string
}

// Dispatcher sends messages in the background with a per-message deadline.
// Recipients are resolved to their email address just before sending.
type Dispatcher struct {
	sender    Sender
	addresses auth.EmployeeLookup
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(sender Sender, addresses auth.EmployeeLookup, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Dispatcher{sender: sender, addresses: addresses, timeout: timeout, logger: logger}
}

// Dispatch queues messages and returns immediately. Messages without a
// recipient are dropped.
func (d *Dispatcher) Dispatch(msgs ...Message) {
	if d == nil {
		return
	}
	for _, m := range msgs {
		if m.RecipientID == "" || d.sender == nil || d.addresses == nil {
			obs.RecordNotification("dropped")
			continue
		}
		d.wg.Add(1)
		go d.deliver(m)
	}
}

func (d *Dispatcher) deliver(m Message) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	emp, err := d.addresses.GetEmployee(ctx, m.RecipientID)
	if err != nil {
		d.fail(m, "", err)
		return
	}
	address := strings.TrimSpace(emp.Email)
	if address == "" {
		obs.RecordNotification("dropped")
		d.logger.Info("notification_dropped",
			zap.String("recipient_id", m.RecipientID),
			zap.String("subject", m.Subject),
			zap.String("reason", "no email address"),
		)
		return
	}
	if err := d.sender.Send(ctx, address, m.Subject, m.Body); err != nil {
		d.fail(m, address, err)
		return
	}
	obs.RecordNotification("sent")
}

func (d *Dispatcher) fail(m Message, address string, err error) {
	obs.RecordNotification("failed")
	d.logger.Warn("notification_failed",
		zap.String("recipient_id", m.RecipientID),
		zap.String("address", address),
		zap.String("subject", m.Subject),
		zap.String("policy", string(DeliveryFailurePolicy)),
		zap.Error(err),
	)
}

// Wait blocks until every queued message finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes notifications to the structured log.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, address, subject, body string) error {
	l := s.Logger
	if l == nil {
		l = obs.Logger()
	}
	l.Info("notification", zap.String("to", address), zap.String("subject", subject), zap.String("body", body))
	return nil
}
