package job

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a tracked job.
//
// NOTE: These values are persisted and are part of the stable storage
// contract.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDismissed Status = "dismissed"
)

// Category groups statuses into the buckets used for filtering and
// state-machine reasoning.
type Category string

const (
	CategoryAccepted Category = "accepted"
	CategoryRunning  Category = "running"
	CategorySuccess  Category = "finished-success"
	CategoryFailure  Category = "finished-failure"
)

// statusNames maps symbolic names to statuses. Client input carries literal
// values while internal code favors symbolic names; ParseStatus accepts both,
// case-insensitively.
var statusNames = map[string]Status{
	"ACCEPTED":  StatusAccepted,
	"RUNNING":   StatusRunning,
	"SUCCEEDED": StatusSucceeded,
	"FAILED":    StatusFailed,
	"DISMISSED": StatusDismissed,
}

// ParseStatus resolves a candidate string against both the symbolic name and
// the literal value of each status, folding case first.
func ParseStatus(s string) (Status, error) {
	folded := strings.ToUpper(strings.TrimSpace(s))
	if st, ok := statusNames[folded]; ok {
		return st, nil
	}
	for _, st := range statusNames {
		if strings.EqualFold(string(st), folded) {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Value: s, Reason: "unknown status"}
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusRunning, StatusSucceeded, StatusFailed, StatusDismissed:
		return true
	}
	return false
}

// Terminal reports whether s is a finished status. No transition is permitted
// out of a terminal status except re-applying the same one.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDismissed:
		return true
	}
	return false
}

// Category returns the derived status category. It is computed, never stored.
func (s Status) Category() Category {
	switch s {
	case StatusAccepted:
		return CategoryAccepted
	case StatusRunning:
		return CategoryRunning
	case StatusSucceeded:
		return CategorySuccess
	default:
		return CategoryFailure
	}
}

// ExpandCategory resolves a named category to its member statuses. Recognized
// names: accepted, running, finished, finished-success, finished-failure.
func ExpandCategory(name string) ([]Status, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "accepted":
		return []Status{StatusAccepted}, true
	case "running":
		return []Status{StatusRunning}, true
	case "finished":
		return []Status{StatusSucceeded, StatusFailed, StatusDismissed}, true
	case "finished-success":
		return []Status{StatusSucceeded}, true
	case "finished-failure":
		return []Status{StatusFailed, StatusDismissed}, true
	}
	return nil, false
}

// canTransition implements the job state machine:
//
//	accepted -> running -> succeeded | failed
//	any non-terminal   -> dismissed
//
// Re-applying the current terminal status is allowed (idempotent).
func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusDismissed:
		return true
	case StatusRunning:
		return from == StatusAccepted
	case StatusSucceeded, StatusFailed:
		return from == StatusRunning
	}
	return false
}

// Access controls whether a job is discoverable by non-owners.
type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

// ParseAccess resolves an access value case-insensitively.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(AccessPublic):
		return AccessPublic, nil
	case string(AccessPrivate):
		return AccessPrivate, nil
	}
	return "", &ValidationError{Field: "access", Value: s, Reason: "must be public or private"}
}

// ValidationError reports an invalid field assignment. The controller never
// silently swallows an invalid mutation.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
