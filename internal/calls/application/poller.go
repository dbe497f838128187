package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultWaitTimeout = 10 * time.Second
)

// Poller drives the capture loop for one session.
type Poller struct {
	reconciler  *Reconciler
	parser      calls.Parser
	interval    time.Duration
	waitTimeout time.Duration
	clock       Clock
	recorder    Recorder
	logger      zerolog.Logger
}

// PollerOption customizes the poller.
type PollerOption func(*Poller)

// WithInterval sets the pause between cycles.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithWaitTimeout bounds how long a cycle waits for the first item.
func WithWaitTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.waitTimeout = d
		}
	}
}

// WithPollerRecorder assigns a metrics recorder.
func WithPollerRecorder(recorder Recorder) PollerOption {
	return func(p *Poller) {
		if recorder != nil {
			p.recorder = recorder
		}
	}
}

// WithPollerLogger assigns a logger.
func WithPollerLogger(logger zerolog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithPollerClock assigns a clock used to time cycles.
func WithPollerClock(clock Clock) PollerOption {
	return func(p *Poller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPoller constructs a poller.
func NewPoller(reconciler *Reconciler, parser calls.Parser, opts ...PollerOption) (*Poller, error) {
	if reconciler == nil {
		return nil, errors.New("calls: nil reconciler")
	}
	p := &Poller{
		reconciler:  reconciler,
		parser:      parser,
		interval:    DefaultInterval,
		waitTimeout: DefaultWaitTimeout,
		clock:       systemClock{},
		recorder:    nopRecorder{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls capture until ctx is done or capture fails. It starts from
// previous and returns the last snapshot it carried, so a restarted
// session keeps its dedup state. Capture failures wrap ErrCaptureSession.
func (p *Poller) Run(ctx context.Context, capture Capture, previous calls.Snapshot) (calls.Snapshot, error) {
	if p == nil || capture == nil {
		return previous, errors.New("calls: nil poller or capture")
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		next, err := p.Cycle(ctx, capture, previous)
		if err != nil {
			if ctx.Err() != nil {
				return previous, ctx.Err()
			}
			return previous, fmt.Errorf("%w: %w", calls.ErrCaptureSession, err)
		}
		previous = next

		select {
		case <-ctx.Done():
			return previous, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one capture and reconcile pass and returns the snapshot to
// compare against next time. An empty panel keeps previous as is.
func (p *Poller) Cycle(ctx context.Context, capture Capture, previous calls.Snapshot) (calls.Snapshot, error) {
	start := p.clock.Now()

	ready, err := capture.WaitForItems(ctx, p.waitTimeout)
	if err != nil {
		return previous, err
	}
	if !ready {
		p.logger.Debug().Msg("no calls on panel")
		p.recorder.CycleDone(p.clock.Now().Sub(start), 0)
		return previous, nil
	}

	items, err := capture.ReadItems(ctx)
	if err != nil {
		return previous, err
	}
	current := p.parser.Snapshot(items)
	if len(current) == 0 {
		p.recorder.CycleDone(p.clock.Now().Sub(start), 0)
		return previous, nil
	}

	fresh := calls.Diff(previous, current)
	if len(fresh) > 0 {
		p.logger.Info().Int("new", len(fresh)).Int("visible", len(current)).Msg("new calls detected")
	}
	results := p.reconciler.ReconcileAll(ctx, fresh)
	p.recorder.CycleDone(p.clock.Now().Sub(start), len(current))
	return carryForward(current, results), nil
}

// carryForward drops events whose store write failed so the next cycle
// sees them as new again.
func carryForward(current calls.Snapshot, results []Result) calls.Snapshot {
	var failed calls.Snapshot
	for _, res := range results {
		if errors.Is(res.Err, calls.ErrStore) {
			failed = append(failed, res.Event)
		}
	}
	if len(failed) == 0 {
		return current
	}
	kept := make(calls.Snapshot, 0, len(current))
	for _, event := range current {
		if !failed.Contains(event) {
			kept = append(kept, event)
		}
	}
	return kept
}
