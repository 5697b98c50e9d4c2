// Package services implements the authoring and query operations behind the
// HTTP API: journey CRUD, activation validation, and run inspection.
package services

import (
	"errors"
	"fmt"
)

// Client errors, mapped to 4xx responses by the web layer.
var (
	ErrInvalidRequest = errors.New("invalid request")

	// Activation validation (400 Bad Request).
	ErrJourneyNil          = errors.New("journey cannot be nil")
	ErrJourneyNameRequired = errors.New("journey name is required")
	ErrTenantRequired      = errors.New("tenant id is required")
	ErrNodesRequired       = errors.New("journey must have at least one node")
	ErrTriggerRequired     = errors.New("journey must have at least one enabled trigger")
	ErrNoStartNode         = errors.New("journey graph has no start node")
	ErrGraphCycle          = errors.New("journey graph contains a cycle")
	ErrDanglingEdge        = errors.New("edge references a node outside the journey")
	ErrInvalidNodeConfig   = errors.New("invalid node configuration")
	ErrInvalidSchedule     = errors.New("time trigger requires a fire_at timestamp or cron expression")

	// Business conflicts (409 Conflict).
	ErrArchivedImmutable = errors.New("archived journeys cannot be modified")
)

// ServiceError carries the operation and a machine-readable code alongside
// the underlying sentinel.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether the error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrJourneyNil) ||
		errors.Is(err, ErrJourneyNameRequired) ||
		errors.Is(err, ErrTenantRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrTriggerRequired) ||
		errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrGraphCycle) ||
		errors.Is(err, ErrDanglingEdge) ||
		errors.Is(err, ErrInvalidNodeConfig) ||
		errors.Is(err, ErrInvalidSchedule)
}

// IsConflictError reports whether the error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrArchivedImmutable)
}

// NewValidationError wraps a sentinel with operation context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
