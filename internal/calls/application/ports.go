package application

import (
	"context"
	"time"

	calls "callwatch/internal/calls/domain"
)

// CallRepository persists call records. Lookups return nil, nil when nothing matches.
type CallRepository interface {
	FindByKey(ctx context.Context, key calls.CallKey) (*calls.CallRecord, error)
	FindLast(ctx context.Context, date, branch string) (*calls.CallRecord, error)
	Insert(ctx context.Context, record calls.CallRecord) error
	Update(ctx context.Context, id string, update calls.CallUpdate) error
}

// Publisher announces reconciled calls.
type Publisher interface {
	Publish(ctx context.Context, notification calls.Notification) error
}

// Capture reads the live panel.
type Capture interface {
	// WaitForItems reports whether any item appeared within timeout.
	WaitForItems(ctx context.Context, timeout time.Duration) (bool, error)
	ReadItems(ctx context.Context) ([]calls.RawItem, error)
}

// Session is a capture bound to one browser session.
type Session interface {
	Capture
	Close() error
}

// SessionFactory opens capture sessions.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Recorder receives engine measurements.
type Recorder interface {
	EventsDetected(branch string, n int)
	Outcome(outcome calls.Outcome)
	StoreError(op string)
	Published(err error)
	CycleDone(d time.Duration, items int)
	SessionEnded(err error)
}

type nopRecorder struct{}

func (nopRecorder) EventsDetected(string, int)   {}
func (nopRecorder) Outcome(calls.Outcome)        {}
func (nopRecorder) StoreError(string)            {}
func (nopRecorder) Published(error)              {}
func (nopRecorder) CycleDone(time.Duration, int) {}
func (nopRecorder) SessionEnded(error)           {}
