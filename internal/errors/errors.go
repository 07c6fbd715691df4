// Package errors holds the error definitions shared by the archive.
//
// This file provides:
// - Sentinel errors for every named failure of the store, resolver and cache
// - Error category checking functions
// - Error wrapping utilities and constructors with context
// - A collector for configuration validation errors

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Ingestion rejects. The store never retries these; the feed ingestor
	// decides what to do with them.
	ErrDuplicateKey     = errors.New("duplicate snapshot key")
	ErrOutOfOrder       = errors.New("snapshot out of order")
	ErrPartitionSealed  = errors.New("partition is sealed")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrStoreClosed      = errors.New("store is closed")
	ErrCorruptPartition = errors.New("corrupt partition")

	// Absence. Store and aggregator return absence as empty values; these
	// sentinels exist for callers that need an error-shaped absence.
	ErrNotFound = errors.New("not found")
	ErrNoData   = errors.New("no data for station")

	// Cache
	ErrTierMismatch = errors.New("cache tier mismatch for fingerprint")

	// Validation
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMissingField    = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNoData returns true if the lag resolver found nothing for the station,
// not even a fallback snapshot.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}

// IsIngestionReject returns true if err is a snapshot the store refused to
// write. These are ingestion-side concerns and are not retriable as-is.
func IsIngestionReject(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrOutOfOrder) ||
		errors.Is(err, ErrPartitionSealed) ||
		errors.Is(err, ErrInvalidSnapshot)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrMissingField)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewDuplicateKey reports a snapshot identity that already exists.
func NewDuplicateKey(key string) error {
	return fmt.Errorf("snapshot %s: %w", key, ErrDuplicateKey)
}

// NewOutOfOrder reports a snapshot older than the station's newest one
// under strict ordering.
func NewOutOfOrder(stationID string, got, latest int64) error {
	return fmt.Errorf("station %s: captured_at_ms %d <= latest %d: %w", stationID, got, latest, ErrOutOfOrder)
}

// NewPartitionSealed reports a write aimed at a finalized partition.
func NewPartitionSealed(date string) error {
	return fmt.Errorf("partition %s: %w", date, ErrPartitionSealed)
}

// NewNoData reports a station with no snapshot at all.
func NewNoData(stationID string) error {
	return fmt.Errorf("station %s: %w", stationID, ErrNoData)
}

// NewTierMismatch reports a fingerprint requested under two tiers.
func NewTierMismatch(fingerprint, cached, requested string) error {
	return fmt.Errorf("%s cached as %s, requested as %s: %w", fingerprint, cached, requested, ErrTierMismatch)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewInvalidArgument creates an invalid argument error.
func NewInvalidArgument(name string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", name, value, reason, ErrInvalidArgument)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
