package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultCaller is recorded when the panel shows no provider.
const DefaultCaller = "unknown"

// Result describes what reconciling one event did.
type Result struct {
	Event    calls.ObservedEvent
	Outcome  calls.Outcome
	Record   calls.CallRecord
	Notified bool
	Err      error
}

// Reconciler turns detected events into stored records and notifications.
type Reconciler struct {
	repo          CallRepository
	publisher     Publisher
	clock         Clock
	location      *time.Location
	repeatPhrase  string
	defaultCaller string
	concurrency   int
	recorder      Recorder
	logger        zerolog.Logger
}

// ReconcilerOption customizes the reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock assigns a clock.
func WithClock(clock Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLocation sets the time zone that defines the call date.
func WithLocation(loc *time.Location) ReconcilerOption {
	return func(r *Reconciler) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithRepeatPhrase overrides the room text that requests a repeat.
func WithRepeatPhrase(phrase string) ReconcilerOption {
	return func(r *Reconciler) {
		if strings.TrimSpace(phrase) != "" {
			r.repeatPhrase = phrase
		}
	}
}

// WithDefaultCaller overrides the caller stored when none is observed.
func WithDefaultCaller(caller string) ReconcilerOption {
	return func(r *Reconciler) {
		if strings.TrimSpace(caller) != "" {
			r.defaultCaller = caller
		}
	}
}

// WithConcurrency bounds how many branches are reconciled in parallel.
func WithConcurrency(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRecorder assigns a metrics recorder.
func WithRecorder(recorder Recorder) ReconcilerOption {
	return func(r *Reconciler) {
		if recorder != nil {
			r.recorder = recorder
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler constructs a reconciler.
func NewReconciler(repo CallRepository, publisher Publisher, opts ...ReconcilerOption) (*Reconciler, error) {
	if repo == nil {
		return nil, errors.New("calls: nil repository")
	}
	if publisher == nil {
		return nil, errors.New("calls: nil publisher")
	}
	r := &Reconciler{
		repo:          repo,
		publisher:     publisher,
		clock:         systemClock{},
		location:      time.Local,
		repeatPhrase:  calls.DefaultRepeatPhrase,
		defaultCaller: DefaultCaller,
		concurrency:   1,
		recorder:      nopRecorder{},
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile applies one event to the store and announces the result.
// Store failures leave the store untouched for this event and return ErrStore.
// A publish failure returns ErrPublish while the mutation stands.
func (r *Reconciler) Reconcile(ctx context.Context, event calls.ObservedEvent) (Result, error) {
	if r == nil {
		return Result{}, errors.New("calls: nil reconciler")
	}
	now := r.clock.Now().In(r.location)
	mode := calls.ModeOf(event.Room, r.repeatPhrase)

	var (
		found *calls.CallRecord
		err   error
	)
	switch mode {
	case calls.ModeRepeat:
		found, err = r.repo.FindLast(ctx, now.Format(calls.DateLayout), event.Branch)
		if err != nil {
			return r.storeFailure(event, "find_last", err)
		}
	default:
		found, err = r.repo.FindByKey(ctx, calls.KeyFor(event.Patient, event.Room, event.Branch, now))
		if err != nil {
			return r.storeFailure(event, "find_by_key", err)
		}
	}

	outcome := calls.Decide(mode, found != nil)
	result := Result{Event: event, Outcome: outcome}
	log := r.logger.With().Str("branch", event.Branch).Str("outcome", string(outcome)).Logger()

	if outcome.Mutates() {
		record, op, err := r.apply(ctx, outcome, event, found, now)
		if err != nil {
			return r.storeFailure(event, op, err)
		}
		result.Record = record
	}
	r.recorder.Outcome(outcome)

	if !outcome.Notifies() {
		log.Warn().Str("room", event.Room).Msg("repeat requested with no prior call today")
		result.Err = calls.ErrNoPriorCall
		return result, result.Err
	}

	err = r.publisher.Publish(ctx, calls.NotificationFor(result.Record))
	r.recorder.Published(err)
	if err != nil {
		log.Error().Err(err).Str("msg_id", result.Record.ID).Msg("call stored but notification failed")
		result.Err = fmt.Errorf("%w: %w", calls.ErrPublish, err)
		return result, result.Err
	}
	result.Notified = true
	log.Info().
		Str("msg_id", result.Record.ID).
		Str("patient", result.Record.Patient).
		Str("room", result.Record.Room).
		Msg("call announced")
	return result, nil
}

// ReconcileAll reconciles a batch of new events. Events of the same branch
// run one at a time in detection order; branches may run in parallel.
// Results are returned in the order of events.
func (r *Reconciler) ReconcileAll(ctx context.Context, events calls.Snapshot) []Result {
	results := make([]Result, len(events))
	if len(events) == 0 {
		return results
	}

	order := make([]string, 0)
	groups := make(map[string][]int)
	for i, event := range events {
		if _, ok := groups[event.Branch]; !ok {
			order = append(order, event.Branch)
		}
		groups[event.Branch] = append(groups[event.Branch], i)
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, branch := range order {
		indexes := groups[branch]
		r.recorder.EventsDetected(branch, len(indexes))
		g.Go(func() error {
			for _, i := range indexes {
				res, err := r.Reconcile(ctx, events[i])
				res.Event = events[i]
				res.Err = err
				results[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// apply writes the outcome to the store and returns the resulting record
// with the name of the failing operation on error.
func (r *Reconciler) apply(ctx context.Context, outcome calls.Outcome, event calls.ObservedEvent, found *calls.CallRecord, now time.Time) (calls.CallRecord, string, error) {
	switch outcome {
	case calls.OutcomeRepeated:
		record := *found
		if err := r.repo.Update(ctx, record.ID, calls.CallUpdate{RegisteredAt: now}); err != nil {
			return calls.CallRecord{}, "update", err
		}
		record.RegisteredAt = now
		return record, "", nil

	case calls.OutcomeUpdated:
		record := *found
		caller := r.callerOf(event)
		update := calls.CallUpdate{
			Patient:      &event.Patient,
			Room:         &event.Room,
			Caller:       &caller,
			RegisteredAt: now,
		}
		if err := r.repo.Update(ctx, record.ID, update); err != nil {
			return calls.CallRecord{}, "update", err
		}
		record.Patient = event.Patient
		record.Room = event.Room
		record.Caller = caller
		record.RegisteredAt = now
		return record, "", nil

	case calls.OutcomeInserted:
		record := calls.NewCallRecord(event.Patient, event.Room, event.Branch, r.callerOf(event), now)
		if err := r.repo.Insert(ctx, record); err != nil {
			return calls.CallRecord{}, "insert", err
		}
		return record, "", nil
	}
	return calls.CallRecord{}, "decide", fmt.Errorf("calls: outcome %q has no store write", outcome)
}

func (r *Reconciler) callerOf(event calls.ObservedEvent) string {
	if caller := strings.TrimSpace(event.Provider); caller != "" {
		return caller
	}
	return r.defaultCaller
}

func (r *Reconciler) storeFailure(event calls.ObservedEvent, op string, err error) (Result, error) {
	r.recorder.StoreError(op)
	r.logger.Error().Err(err).
		Str("branch", event.Branch).
		Str("op", op).
		Str("patient", event.Patient).
		Msg("call store failure")
	wrapped := fmt.Errorf("%w: %s: %w", calls.ErrStore, op, err)
	return Result{Event: event, Err: wrapped}, wrapped
}
