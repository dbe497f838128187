package notify

import (
	"context"
	"errors"

	"callwatch/internal/calls/application"
	calls "callwatch/internal/calls/domain"
)

// MultiPublisher dispatches notifications to multiple publishers.
type MultiPublisher struct {
	publishers []application.Publisher
}

// NewMultiPublisher constructs a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(publishers ...application.Publisher) *MultiPublisher {
	kept := make([]application.Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &MultiPublisher{publishers: kept}
}

// Publish forwards the notification to every publisher and joins their errors.
func (m *MultiPublisher) Publish(ctx context.Context, n calls.Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, publisher := range m.publishers {
		if err := publisher.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of publishers.
func (m *MultiPublisher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.publishers)
}
