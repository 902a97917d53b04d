package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes have the form CL-<AREA>-<HTTP status><n>.
type DomainError struct {
	Code    string // Error code (e.g., "CL-KEY-5030")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Key Errors (KEY)
// ============================================================================

var (
	// ErrKeyNotReady indicates no key hierarchy has been established on this node.
	// Callers treat it as "not available yet" and retry once distribution converges.
	ErrKeyNotReady = NewDomainError("CL-KEY-5030", "no cluster key set")

	// ErrKeyAlreadyExists indicates an exclusive create found a key file in place.
	ErrKeyAlreadyExists = NewDomainError("CL-KEY-4090", "key file already exists")
)

// ============================================================================
// Crypto Errors (CRYP)
// ============================================================================

var (
	// ErrAuthentication indicates ciphertext failed to authenticate under the expected key.
	ErrAuthentication = NewDomainError("CL-CRYP-4220", "authentication failed")

	// ErrUnsupportedMode indicates an unrecognized key mode tag or file header.
	ErrUnsupportedMode = NewDomainError("CL-CRYP-4221", "unsupported key mode")
)

// ============================================================================
// Protocol Errors (PROT)
// ============================================================================

var (
	// ErrNotLeader indicates a leader-only request reached a follower.
	ErrNotLeader = NewDomainError("CL-PROT-4120", "node is not the cluster leader")

	// ErrKeyPairMismatch indicates the supplied private key does not belong to the configured public key.
	ErrKeyPairMismatch = NewDomainError("CL-PROT-4121", "private key does not match public cluster key")

	// ErrPublicKeyMissing indicates no public cluster key is configured.
	ErrPublicKeyMissing = NewDomainError("CL-PROT-4122", "no public cluster key configured")
)

// ============================================================================
// Snapshot Errors (SNAP)
// ============================================================================

var (
	// ErrSnapshotCorrupted indicates a snapshot file no longer matches its manifest.
	ErrSnapshotCorrupted = NewDomainError("CL-SNAP-4220", "snapshot corrupted")

	// ErrSnapshotsDisabled indicates no snapshot repository is configured.
	ErrSnapshotsDisabled = NewDomainError("CL-SNAP-5010", "snapshot repository not configured")
)

// ============================================================================
// Request and System Errors
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CL-REQ-4000", "invalid argument")

	// ErrIndexNotFound indicates the requested index does not exist.
	ErrIndexNotFound = NewDomainError("CL-REQ-4040", "index not found")

	// ErrDocumentNotFound indicates the document has never been indexed or was deleted.
	ErrDocumentNotFound = NewDomainError("CL-REQ-4042", "document not found")

	// ErrSnapshotNotFound indicates the snapshot does not exist in the repository.
	ErrSnapshotNotFound = NewDomainError("CL-REQ-4043", "snapshot not found")

	// ErrIndexExists indicates an index with the same name already exists.
	ErrIndexExists = NewDomainError("CL-REQ-4091", "index already exists")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("CL-REQ-4290", "too many requests")

	// ErrInternal indicates an internal server error.
	ErrInternal = NewDomainError("CL-SYS-5000", "internal server error")
)

// IsPrecondition reports whether err is a protocol precondition failure.
// Such failures are rejected before any state is mutated.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotLeader) ||
		errors.Is(err, ErrKeyPairMismatch) ||
		errors.Is(err, ErrPublicKeyMissing)
}
