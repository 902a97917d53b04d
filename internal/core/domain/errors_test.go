package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("CL-TEST-1000", "test message"),
			expected: "[CL-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("CL-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[CL-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_IsComparesCode(t *testing.T) {
	wrapped := fmt.Errorf("ceff: chunk 3: %w", ErrAuthentication.WithCause(errors.New("message authentication failed")))

	if !errors.Is(wrapped, ErrAuthentication) {
		t.Error("errors.Is should match a wrapped error with the same code")
	}
	if errors.Is(wrapped, ErrKeyNotReady) {
		t.Error("errors.Is should not match a different code")
	}
	if errors.Is(ErrAuthentication, errors.New("authentication failed")) {
		t.Error("errors.Is should not match a plain error")
	}
}

func TestDomainError_CopiesDoNotMutate(t *testing.T) {
	cause := errors.New("root cause")
	derived := ErrKeyNotReady.WithDetails("shard [x][0]").WithCause(cause)

	if ErrKeyNotReady.Details != "" || ErrKeyNotReady.Cause != nil {
		t.Fatal("WithDetails/WithCause modified the predefined error")
	}
	if derived.Code != ErrKeyNotReady.Code || derived.Details != "shard [x][0]" {
		t.Errorf("derived = %+v", derived)
	}
	if errors.Unwrap(derived) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(derived), cause)
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrUnsupportedMode, "CL-CRYP-4221"},
		{"wrapped domain error", fmt.Errorf("wrapped: %w", ErrNotLeader), "CL-PROT-4120"},
		{"regular error", errors.New("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
			if tt.expected != "" && !IsDomainError(tt.err, tt.expected) {
				t.Errorf("IsDomainError(%v, %q) = false", tt.err, tt.expected)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrKeyNotReady, "CL-KEY-5030"},
		{ErrKeyAlreadyExists, "CL-KEY-4090"},
		{ErrAuthentication, "CL-CRYP-4220"},
		{ErrUnsupportedMode, "CL-CRYP-4221"},
		{ErrNotLeader, "CL-PROT-4120"},
		{ErrKeyPairMismatch, "CL-PROT-4121"},
		{ErrPublicKeyMissing, "CL-PROT-4122"},
		{ErrInvalidArgument, "CL-REQ-4000"},
		{ErrIndexNotFound, "CL-REQ-4040"},
		{ErrDocumentNotFound, "CL-REQ-4042"},
		{ErrSnapshotNotFound, "CL-REQ-4043"},
		{ErrSnapshotCorrupted, "CL-SNAP-4220"},
		{ErrSnapshotsDisabled, "CL-SNAP-5010"},
		{ErrIndexExists, "CL-REQ-4091"},
		{ErrRateLimited, "CL-REQ-4290"},
		{ErrInternal, "CL-SYS-5000"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestIsPrecondition(t *testing.T) {
	if !IsPrecondition(fmt.Errorf("initialize: %w", ErrNotLeader)) {
		t.Error("ErrNotLeader should be a precondition failure")
	}
	if !IsPrecondition(ErrKeyPairMismatch) || !IsPrecondition(ErrPublicKeyMissing) {
		t.Error("key pair errors should be precondition failures")
	}
	if IsPrecondition(ErrAuthentication) {
		t.Error("ErrAuthentication is not a precondition failure")
	}
}
