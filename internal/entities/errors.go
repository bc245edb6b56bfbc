package entities

import (
	"errors"
	"fmt"
)

// Sentinel errors of the authorization core. Typed errors below wrap them so
// callers can use errors.Is without caring about the details.
var (
	ErrResourceNotFound     = errors.New("resource not found")
	ErrResourceKindConflict = errors.New("resource kind conflict")
	ErrInvalidAce           = errors.New("invalid access control entry")
	ErrResourceUnavailable  = errors.New("resource unavailable")
	ErrEditorRequired       = errors.New("editor must be set on update")
)

// ResourceNotFoundError reports a failed lookup by id or by (parent, name)
type ResourceNotFoundError struct {
	ID       int64  // Set when looked up by id
	ParentID *int64 // Set when looked up by name below a parent (nil = root)
	Name     string
}

func (e *ResourceNotFoundError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("resource not found: id=%d", e.ID)
	}
	if e.ParentID == nil {
		return fmt.Sprintf("root resource not found: '%s'", e.Name)
	}
	return fmt.Sprintf("child resource not found: '%s' (parent_id=%d)", e.Name, *e.ParentID)
}

func (e *ResourceNotFoundError) Unwrap() error { return ErrResourceNotFound }

// ResourceKindConflictError is returned when a root exists under a different kind
type ResourceKindConflictError struct {
	Name     string
	Existing Kind
	Wanted   Kind
}

func (e *ResourceKindConflictError) Error() string {
	return fmt.Sprintf("root node '%s' already exists, but kind differs: is='%s' wanted='%s'",
		e.Name, e.Existing.Name(), e.Wanted.Name())
}

func (e *ResourceKindConflictError) Unwrap() error { return ErrResourceKindConflict }

// InvalidAceError rejects a malformed ACE before anything is persisted
type InvalidAceError struct {
	Reason string
	Cause  error
}

func (e *InvalidAceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid ACE: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid ACE: %s", e.Reason)
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *InvalidAceError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidAce, e.Cause}
	}
	return []error{ErrInvalidAce}
}

// ResourceUnavailableError reports an ancestry walk that could not complete
type ResourceUnavailableError struct {
	ResourceID int64
	Cause      error
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource %d unavailable: %v", e.ResourceID, e.Cause)
}

func (e *ResourceUnavailableError) Unwrap() []error {
	return []error{ErrResourceUnavailable, e.Cause}
}
