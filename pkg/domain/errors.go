package domain

import (
	"errors"
	"fmt"
)

// PlanningError indicates plan creation failed: empty query or the planner
// returned zero subtasks. Fatal to plan creation.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

// SchedulingError indicates no capable idle agent was available. Non-fatal:
// the subtask stays pending and is retried on the next scheduling pass.
type SchedulingError struct {
	SubtaskID  string
	Capability Capability
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("no idle agent with capability %q for subtask %s", e.Capability, e.SubtaskID)
}

// CapacityError indicates an agent or queue is at its concurrency limit.
type CapacityError struct {
	Resource string
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s at capacity (limit %d)", e.Resource, e.Limit)
}

// InvalidTransitionError indicates a state machine transition was requested
// from a state that does not allow it.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: invalid transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// EvidenceValidationError indicates an evidence draft carried a score
// outside [0,1]. The draft is rejected outright, never clamped.
type EvidenceValidationError struct {
	Field string
	Value float64
}

func (e *EvidenceValidationError) Error() string {
	return fmt.Sprintf("evidence %s %.4f outside [0,1]", e.Field, e.Value)
}

// SynthesisError indicates synthesis could not be produced. Insufficient
// evidence is downgraded to a low-confidence flag rather than surfaced here.
type SynthesisError struct {
	Reason string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %s", e.Reason)
}

// TransientError wraps a retryable agent execution failure (network errors,
// timeouts). The scheduler retries these with backoff up to max_retries.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError wraps a non-retryable agent execution failure, e.g. a malformed
// request. The subtask is marked failed immediately.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError, preserving nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as a FatalError, preserving nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsTransient reports whether err is classified as retryable. Errors with no
// explicit classification are treated as transient; an explicit FatalError
// always wins.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	return true
}
