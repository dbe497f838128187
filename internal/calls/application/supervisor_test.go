package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFactory struct {
	mu       sync.Mutex
	sessions []*scriptedCapture
	openErr  error
	opened   int
}

func (f *scriptedFactory) Open(_ context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if len(f.sessions) == 0 {
		return &scriptedCapture{}, nil
	}
	s := f.sessions[0]
	f.sessions = f.sessions[1:]
	return s, nil
}

type sessionCounter struct {
	nopRecorder
	mu    sync.Mutex
	ended []error
}

func (c *sessionCounter) SessionEnded(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, err)
}

func TestSupervisorRestartsAfterCooldownAndKeepsSnapshot(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestPoller(t, newCountingRepo(), pub)
	frame := []calls.RawItem{{Patient: "ANA", RoomLabel: "Matriz - Sala 1"}}
	crashErr := errors.New("target closed")
	first := &scriptedCapture{frames: [][]calls.RawItem{frame}, errAt: 1, err: crashErr}
	second := &scriptedCapture{frames: [][]calls.RawItem{frame, frame}, errAt: 2, err: crashErr}
	factory := &scriptedFactory{sessions: []*scriptedCapture{first, second}, openErr: nil}
	recorder := &sessionCounter{}

	s, err := NewSupervisor(factory, p, time.Hour, recorder, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cooldowns := make(chan time.Duration, 4)
	s.after = func(d time.Duration) <-chan time.Time {
		cooldowns <- d
		if len(cooldowns) >= 2 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.Equal(t, time.Hour, <-cooldowns)
	assert.True(t, first.closed)
	assert.True(t, second.closed)
	assert.Len(t, pub.Sent(), 1, "second session must not re-announce calls seen before the restart")
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.GreaterOrEqual(t, len(recorder.ended), 2)
	assert.ErrorIs(t, recorder.ended[0], calls.ErrCaptureSession)
}

func TestSupervisorRetriesWhenSessionCannotOpen(t *testing.T) {
	p := newTestPoller(t, newCountingRepo(), &recordingPublisher{})
	factory := &scriptedFactory{openErr: errors.New("chrome not found")}

	s, err := NewSupervisor(factory, p, 0, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultCooldown, s.cooldown)

	ctx, cancel := context.WithCancel(context.Background())
	s.after = func(time.Duration) <-chan time.Time {
		factory.mu.Lock()
		n := factory.opened
		factory.mu.Unlock()
		if n >= 3 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	s.Start(ctx)

	assert.GreaterOrEqual(t, factory.opened, 3)
}

func TestNewSupervisorRejectsNilDeps(t *testing.T) {
	p := newTestPoller(t, newCountingRepo(), &recordingPublisher{})
	_, err := NewSupervisor(nil, p, time.Second, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewSupervisor(&scriptedFactory{}, nil, time.Second, nil, zerolog.Nop())
	assert.Error(t, err)
}
