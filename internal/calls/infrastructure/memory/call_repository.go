package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	calls "callwatch/internal/calls/domain"
)

// CallRepository is an in-memory repository for dry runs and tests.
type CallRepository struct {
	mu   sync.RWMutex
	data map[string]calls.CallRecord
}

// NewCallRepository constructs a repository.
func NewCallRepository() *CallRepository {
	return &CallRepository{
		data: make(map[string]calls.CallRecord),
	}
}

// FindByKey returns the record matching the day, branch and slugs.
func (r *CallRepository) FindByKey(ctx context.Context, key calls.CallKey) (*calls.CallRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *calls.CallRecord
	for _, record := range r.data {
		if record.Key() != key {
			continue
		}
		if match == nil || record.ID < match.ID {
			rec := record
			match = &rec
		}
	}
	return match, nil
}

// FindLast returns the most recently registered record of a day and branch.
func (r *CallRepository) FindLast(ctx context.Context, date, branch string) (*calls.CallRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *calls.CallRecord
	for _, record := range r.data {
		if record.Date != date || record.Branch != branch {
			continue
		}
		if last == nil || newer(record, *last) {
			rec := record
			last = &rec
		}
	}
	return last, nil
}

func newer(a, b calls.CallRecord) bool {
	if a.RegisteredAt.Equal(b.RegisteredAt) {
		return a.ID > b.ID
	}
	return a.RegisteredAt.After(b.RegisteredAt)
}

// Insert stores a new record. Duplicate ids are rejected.
func (r *CallRepository) Insert(ctx context.Context, record calls.CallRecord) error {
	_ = ctx
	if record.ID == "" {
		return errors.New("memory: empty call id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[record.ID]; exists {
		return fmt.Errorf("memory: duplicate call id %s", record.ID)
	}
	r.data[record.ID] = record
	return nil
}

// Update applies the non-nil fields of update to a record.
func (r *CallRepository) Update(ctx context.Context, id string, update calls.CallUpdate) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.data[id]
	if !ok {
		return calls.ErrNotFound
	}
	if update.Patient != nil {
		record.Patient = *update.Patient
		record.PatientKey = calls.Slugify(*update.Patient)
	}
	if update.Room != nil {
		record.Room = *update.Room
		record.RoomKey = calls.Slugify(*update.Room)
	}
	if update.Caller != nil {
		record.Caller = *update.Caller
	}
	if !update.RegisteredAt.IsZero() {
		record.RegisteredAt = update.RegisteredAt
	}
	r.data[id] = record
	return nil
}

// ListDay returns the records of a day ordered by registration time. An
// empty branch lists every branch.
func (r *CallRepository) ListDay(ctx context.Context, date, branch string) ([]calls.CallRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []calls.CallRecord
	for _, record := range r.data {
		if record.Date != date || (branch != "" && record.Branch != branch) {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// List returns all records ordered by id.
func (r *CallRepository) List() []calls.CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]calls.CallRecord, 0, len(r.data))
	for _, record := range r.data {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
