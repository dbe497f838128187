package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCapture replays one frame per cycle. A nil frame means an empty panel.
type scriptedCapture struct {
	mu     sync.Mutex
	frames [][]calls.RawItem
	errAt  int
	err    error
	cycles int
	closed bool
}

func (c *scriptedCapture) WaitForItems(_ context.Context, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.cycles
	c.cycles++
	if c.err != nil && i >= c.errAt {
		return false, c.err
	}
	if i >= len(c.frames) {
		return false, nil
	}
	return c.frames[i] != nil, nil
}

func (c *scriptedCapture) ReadItems(_ context.Context) ([]calls.RawItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[c.cycles-1], nil
}

func (c *scriptedCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func testParser() calls.Parser {
	return calls.Parser{
		Table:       calls.BranchTable{{Key: "matriz", Label: "matriz"}},
		Fallback:    "scraper",
		Annotations: calls.DefaultAnnotations(),
	}
}

func newTestPoller(t *testing.T, repo CallRepository, pub Publisher) *Poller {
	t.Helper()
	r := newTestReconciler(t, repo, pub)
	p, err := NewPoller(r, testParser(), WithInterval(time.Millisecond), WithWaitTimeout(time.Millisecond))
	require.NoError(t, err)
	return p
}

func TestPollerCycleOnlyReconcilesNewCalls(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	pub := &recordingPublisher{}
	p := newTestPoller(t, repo, pub)

	frame1 := []calls.RawItem{
		{Patient: "ANA SILVA", Provider: "Dr. A", RoomLabel: "Matriz - Sala 2"},
		{Patient: "", RoomLabel: "Matriz - Sala 3"},
	}
	frame2 := []calls.RawItem{
		{Patient: "Ana Silva ✅", Provider: "Dr. B", RoomLabel: "Matriz - Sala 2"},
		{Patient: "BIA SOUZA", RoomLabel: "Matriz - Audiometria"},
	}
	capture := &scriptedCapture{frames: [][]calls.RawItem{frame1, frame2}}

	prev, err := p.Cycle(ctx, capture, nil)
	require.NoError(t, err)
	require.Len(t, prev, 1)
	require.Len(t, pub.Sent(), 1)

	prev, err = p.Cycle(ctx, capture, prev)
	require.NoError(t, err)
	require.Len(t, prev, 2)

	sent := pub.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "BIA SOUZA", sent[1].PatientName)
	assert.Equal(t, "Audiometria", sent[1].Room)
}

func TestPollerEmptyPanelKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	p := newTestPoller(t, newCountingRepo(), pub)

	frame := []calls.RawItem{{Patient: "ANA", RoomLabel: "Matriz - Sala 1"}}
	capture := &scriptedCapture{frames: [][]calls.RawItem{frame, nil, {{Patient: " ", RoomLabel: "x"}}, frame}}

	prev, err := p.Cycle(ctx, capture, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		prev, err = p.Cycle(ctx, capture, prev)
		require.NoError(t, err)
		require.Len(t, prev, 1)
	}
	assert.Len(t, pub.Sent(), 1)
}

func TestPollerRetriesEventsWhoseStoreWriteFailed(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	repo.failOn = "write"
	pub := &recordingPublisher{}
	p := newTestPoller(t, repo, pub)

	frame := []calls.RawItem{{Patient: "ANA", RoomLabel: "Matriz - Sala 1"}}
	capture := &scriptedCapture{frames: [][]calls.RawItem{frame, frame}}

	prev, err := p.Cycle(ctx, capture, nil)
	require.NoError(t, err)
	assert.Empty(t, prev)

	repo.failOn = ""
	prev, err = p.Cycle(ctx, capture, prev)
	require.NoError(t, err)
	assert.Len(t, prev, 1)
	assert.Len(t, repo.List(), 1)
	assert.Len(t, pub.Sent(), 1)
}

func TestPollerRunPropagatesCaptureFailure(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestPoller(t, newCountingRepo(), pub)
	navErr := errors.New("navigation timeout")
	frame := []calls.RawItem{{Patient: "ANA", RoomLabel: "Matriz - Sala 1"}}
	capture := &scriptedCapture{frames: [][]calls.RawItem{frame, nil}, errAt: 2, err: navErr}

	last, err := p.Run(context.Background(), capture, nil)

	assert.ErrorIs(t, err, calls.ErrCaptureSession)
	assert.ErrorIs(t, err, navErr)
	assert.Len(t, last, 1)
	assert.Len(t, pub.Sent(), 1)
}

func TestPollerRunStopsOnContextCancel(t *testing.T) {
	p := newTestPoller(t, newCountingRepo(), &recordingPublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	capture := &scriptedCapture{}

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, capture, nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
