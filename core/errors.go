package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Entity lookup errors
	ErrEndpointNotFound   = errors.New("endpoint not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrAlertNotFound      = errors.New("alert not found")

	// Entity state errors
	ErrDuplicateName   = errors.New("name already in use")
	ErrCredentialInUse = errors.New("credential referenced by endpoints")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Crypto errors
	ErrCryptoFailure  = errors.New("crypto operation failed")
	ErrKeyNotDerived  = errors.New("encryption key not initialized")
	ErrWeakSecret     = errors.New("encryption secret too short")
	ErrCiphertextForm = errors.New("malformed ciphertext")

	// Persistence errors
	ErrStoreUnavailable = errors.New("state store unavailable")

	// Delivery errors
	ErrDeliveryFailed = errors.New("alert delivery failed")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
)

// MonitorError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type MonitorError struct {
	Op   string // Operation that failed (e.g., "store.AppendCheckResult")
	Kind string // Error kind (e.g., "store", "crypto", "delivery", "config")
	ID   string // Optional ID of the entity involved
	Err  error  // Underlying error for wrapping
}

func (e *MonitorError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *MonitorError) Unwrap() error {
	return e.Err
}

// NewMonitorError creates a new MonitorError.
func NewMonitorError(op, kind string, err error) *MonitorError {
	return &MonitorError{Op: op, Kind: kind, Err: err}
}

// IsNotFound checks if an error represents a "not found" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEndpointNotFound) ||
		errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrIncidentNotFound) ||
		errors.Is(err, ErrAlertNotFound)
}

// IsConfigError checks if an error is configuration-related. Configuration
// errors abort startup; nothing else does.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsCryptoError checks if an error came from the secret store.
func IsCryptoError(err error) bool {
	return errors.Is(err, ErrCryptoFailure) ||
		errors.Is(err, ErrKeyNotDerived) ||
		errors.Is(err, ErrCiphertextForm)
}

// IsRetryable checks if an error is a transient condition worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrDeliveryFailed)
}
