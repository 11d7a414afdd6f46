package domain

import (
	"errors"
	"fmt"
)

// ValidationError covers missing or malformed request fields. Always a
// client fault; never recorded in the action ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// NewValidationError reports a bad value for a named request field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError covers references to absent contracts, opportunities or
// deployments.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NewNotFoundError reports an absent entity of the given kind.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// CapitalExceededError is returned when an execute call would push a
// contract past its capital cap. No state is mutated on this path.
type CapitalExceededError struct {
	ContractID string
	Requested  float64
	Headroom   float64
}

func (e *CapitalExceededError) Error() string {
	return fmt.Sprintf("contract %s: insufficient capital: requested %.2f, headroom %.2f",
		e.ContractID, e.Requested, e.Headroom)
}

// AgentExecutionError wraps a single agent handler failure. It is captured
// by the dispatcher and surfaced as data, never propagated.
type AgentExecutionError struct {
	AgentType string
	Err       error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentType, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a client-facing validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is an absent-entity failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsCapitalExceeded reports whether err is a contract headroom failure.
func IsCapitalExceeded(err error) bool {
	var ce *CapitalExceededError
	return errors.As(err, &ce)
}
