package domain

import "errors"

var (
	// ErrInvalidLimit regulatory limit <= 0 (configuration error)
	ErrInvalidLimit = errors.New("invalid regulatory limit")
	// ErrInvalidMeasurement negative or non-finite measurement value
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrInvalidTransition state machine rejected the requested transition
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound unknown exposure / alert / recommendation id
	ErrNotFound = errors.New("not found")
	// ErrValidation record rejected before persistence
	ErrValidation = errors.New("validation failed")
	// ErrConflict optimistic concurrency miss (version changed underneath)
	ErrConflict = errors.New("concurrent modification")
	// ErrAnalysisUnavailable narrative enrichment failed or timed out
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
)
