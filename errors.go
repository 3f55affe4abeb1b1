package trustplane

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the trustplane package.
var (
	// ErrClosed is returned when operations are attempted on a closed engine.
	ErrClosed = errors.New("engine is closed")

	// ErrConfiguration is returned for missing or invalid configuration,
	// such as an empty catalog import or a malformed threshold list.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownReference is returned when evidence or an override points to
	// a control or cluster that does not exist.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrStaleSnapshot is returned when a coverage query raced with a
	// cluster-mapping swap and could not settle on a single version.
	// Callers should retry against the latest version.
	ErrStaleSnapshot = errors.New("stale cluster mapping snapshot")

	// ErrNotificationFailed is returned when stakeholder delivery failed
	// after all retries. The underlying routing decision remains valid.
	ErrNotificationFailed = errors.New("stakeholder notification failed")

	// ErrStatusConflict is returned when an evidence status transition finds
	// a different current status than the caller expected.
	ErrStatusConflict = errors.New("evidence status conflict")
)

// ReferenceError describes a reference to a nonexistent control or cluster.
type ReferenceError struct {
	Kind    string // "control" or "cluster"
	Ref     string
	Message string
}

func (e *ReferenceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unknown %s %q: %s", e.Kind, e.Ref, e.Message)
	}
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Ref)
}

// Is implements error matching for ReferenceError.
func (e *ReferenceError) Is(target error) bool {
	return target == ErrUnknownReference
}

// newReferenceError creates a new ReferenceError.
func newReferenceError(kind, ref, message string) *ReferenceError {
	return &ReferenceError{Kind: kind, Ref: ref, Message: message}
}

// ThresholdError describes an invalid risk-appetite threshold list.
type ThresholdError struct {
	OrgID   string
	Index   int
	Message string
}

func (e *ThresholdError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid threshold list for %q at index %d: %s", e.OrgID, e.Index, e.Message)
	}
	return fmt.Sprintf("invalid threshold list for %q: %s", e.OrgID, e.Message)
}

// Is implements error matching for ThresholdError.
func (e *ThresholdError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransitionError describes a rejected evidence status transition.
type TransitionError struct {
	EvidenceID string
	Expected   EvidenceStatus
	Actual     EvidenceStatus
	Target     EvidenceStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("evidence %s: cannot transition %s -> %s, current status is %s",
		e.EvidenceID, e.Expected, e.Target, e.Actual)
}

// Is implements error matching for TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrStatusConflict
}
