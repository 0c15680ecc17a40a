package orchestrator

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline failure.
type Code string

const (
	CodeSafetyRejected        Code = "SAFETY_REJECTED"
	CodeRoutingRejected       Code = "ROUTING_REJECTED_BY_REVIEWER"
	CodeToolUnavailable       Code = "TOOL_UNAVAILABLE"
	CodeToolValidationFailed  Code = "TOOL_VALIDATION_FAILED"
	CodeToolRateLimited       Code = "TOOL_RATE_LIMITED"
	CodeToolTimeout           Code = "TOOL_TIMEOUT"
	CodeToolExecutionError    Code = "TOOL_EXECUTION_ERROR"
	CodeToolRejected          Code = "TOOL_REJECTED_BY_REVIEWER"
	CodeHandoffInvalidAgent   Code = "HANDOFF_INVALID_AGENT"
	CodeHandoffRejected       Code = "HANDOFF_REJECTED_BY_REVIEWER"
	CodeInterventionTimeout   Code = "INTERVENTION_TIMEOUT"
	CodeResourceLimitExceeded Code = "RESOURCE_LIMIT_EXCEEDED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error is a classified pipeline failure.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the Code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return CodeInternal
}
