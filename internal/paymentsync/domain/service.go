package domain

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	Match(ctx context.Context, req MatchRequest) (*MatchResult, error)
	CommitMerges(ctx context.Context, actor Actor, updates []MergeUpdate) (*CommitReport, error)
}

// CommitHook runs after a commit transaction succeeds. Hook errors are
// logged by the caller and never undo the commit.
type CommitHook interface {
	Name() string
	AfterCommit(ctx context.Context, actor Actor, rid string, committed []CommittedPayment) error
}

var (
	ErrInvalidSelection   = errors.New("invalid_selection")
	ErrInvariantViolation = errors.New("invariant_violation")
	ErrInfrastructure     = errors.New("infrastructure_error")

	ErrInvalidDays  = errors.New("invalid_db_days")
	ErrEmptyUpdates = errors.New("empty_updates")
	ErrInvalidActor = errors.New("invalid_actor")
)

// SelectionError is a caller error in the match request or selection.
type SelectionError struct {
	Code    string
	Field   string
	Message string
}

func (e *SelectionError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *SelectionError) Unwrap() error { return ErrInvalidSelection }

func NewSelectionError(code, field, message string) error {
	return &SelectionError{Code: code, Field: field, Message: message}
}

// InvariantError aborts a whole commit batch.
type InvariantError struct {
	Code        string
	DBPaymentID int64
	Message     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: payment %d: %s", e.Code, e.DBPaymentID, e.Message)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// InfrastructureError wraps storage faults. Retryable marks transient
// database conditions such as serialization failures and lock timeouts.
type InfrastructureError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *InfrastructureError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InfrastructureError) Unwrap() []error { return []error{ErrInfrastructure, e.Err} }
