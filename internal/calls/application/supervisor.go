package application

import (
	"context"
	"errors"
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCooldown is the pause before reopening a failed capture session.
const DefaultCooldown = 10 * time.Second

// Supervisor keeps a capture session alive, reopening it after failures.
type Supervisor struct {
	factory  SessionFactory
	poller   *Poller
	cooldown time.Duration
	recorder Recorder
	logger   zerolog.Logger
	after    func(time.Duration) <-chan time.Time
}

// NewSupervisor constructs a supervisor.
func NewSupervisor(factory SessionFactory, poller *Poller, cooldown time.Duration, recorder Recorder, logger zerolog.Logger) (*Supervisor, error) {
	if factory == nil {
		return nil, errors.New("calls: nil session factory")
	}
	if poller == nil {
		return nil, errors.New("calls: nil poller")
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Supervisor{
		factory:  factory,
		poller:   poller,
		cooldown: cooldown,
		recorder: recorder,
		logger:   logger,
		after:    time.After,
	}, nil
}

// Start runs sessions until ctx is done.
func (s *Supervisor) Start(ctx context.Context) {
	if s == nil {
		return
	}
	var previous calls.Snapshot
	for {
		var err error
		previous, err = s.runSession(ctx, previous)
		if ctx.Err() != nil {
			return
		}
		s.recorder.SessionEnded(err)
		s.logger.Error().Err(err).Dur("cooldown", s.cooldown).Msg("capture session failed, restarting")

		select {
		case <-ctx.Done():
			return
		case <-s.after(s.cooldown):
		}
	}
}

func (s *Supervisor) runSession(ctx context.Context, previous calls.Snapshot) (calls.Snapshot, error) {
	id := uuid.NewString()
	log := s.logger.With().Str("session_id", id).Logger()

	session, err := s.factory.Open(ctx)
	if err != nil {
		return previous, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("capture session close")
		}
	}()
	log.Info().Msg("capture session opened")

	return s.poller.Run(ctx, session, previous)
}
