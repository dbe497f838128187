package calls

import "errors"

var (
	// ErrNotFound indicates a missing call record.
	ErrNotFound = errors.New("calls: not found")
	// ErrNoPriorCall indicates a repeat request with no call to repeat for the day and branch.
	ErrNoPriorCall = errors.New("calls: no prior call to repeat")
	// ErrStore wraps persistence failures that abort a single event.
	ErrStore = errors.New("calls: store failure")
	// ErrPublish wraps notification failures after a successful mutation.
	ErrPublish = errors.New("calls: publish failure")
	// ErrCaptureSession indicates the capture mechanism cannot produce data.
	ErrCaptureSession = errors.New("calls: capture session failure")
	// ErrEmptyPatient indicates an observed item without a patient name.
	ErrEmptyPatient = errors.New("calls: empty patient")
)
