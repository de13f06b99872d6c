package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// EVENTS - Post-commit notifications
// =============================================================================

type EventType string

const (
	// EventAttendanceChanged fires after a record is created, updated or
	// deleted and the surrounding transaction has committed.
	EventAttendanceChanged EventType = "attendance.changed"
)

type Event struct {
	Type       EventType `json:"type"`
	EmployeeID EntityID  `json:"employee_id"`
	Date       Date      `json:"date"`
	RecordID   RecordID  `json:"record_id,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	At         time.Time `json:"at"`
}

// Handler consumes an event. A returned error is logged and counted by the
// bus; it never reaches the publisher.
type Handler func(ctx context.Context, e Event) error

// HandlerError describes a failed subscriber invocation.
type HandlerError struct {
	Subscriber string
	Event      Event
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("subscriber %s failed on %s for %s/%s: %v",
		e.Subscriber, e.Event.Type, e.Event.EmployeeID, e.Event.Date, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type subscription struct {
	name    string
	handler Handler
}

// Bus delivers events synchronously to subscribers in registration order.
// Subscriber failures are isolated: each is logged, counted and recorded as
// the last error for that subscriber.
type Bus struct {
	mu       sync.RWMutex
	subs     []subscription
	failures map[string]int
	lastErr  map[string]*HandlerError
	logger   logrus.FieldLogger
}

func NewBus(logger logrus.FieldLogger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		failures: make(map[string]int),
		lastErr:  make(map[string]*HandlerError),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// Publish runs every subscriber. Panics are recovered and treated as failures.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.invoke(ctx, s, e); err != nil {
			herr := &HandlerError{Subscriber: s.name, Event: e, Err: err}
			b.mu.Lock()
			b.failures[s.name]++
			b.lastErr[s.name] = herr
			b.mu.Unlock()
			b.logger.WithFields(logrus.Fields{
				"module":      "events",
				"subscriber":  s.name,
				"event":       e.Type,
				"employee_id": e.EmployeeID,
				"date":        e.Date.String(),
			}).WithError(err).Error("event subscriber failed")
		}
	}
}

func (b *Bus) invoke(ctx context.Context, s subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, e)
}

// Failures returns how many times the named subscriber has failed.
func (b *Bus) Failures(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures[name]
}

// LastError returns the most recent failure of the named subscriber, if any.
func (b *Bus) LastError(name string) *HandlerError {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr[name]
}
