// Package errs defines the error taxonomy shared by the engine's
// adapters and the reconciliation orchestrator.
//
// Record-scoped errors (ScoringInputError, IngestionError) are isolated
// and reported in the run result. Provider-scoped errors (ErrAuth)
// abort the run. TransientError marks failures worth retrying.
package errs

import (
	"errors"
	"fmt"
)

// ErrAuth marks authentication or authorization failures from an
// external provider. Non-retryable; aborts the run immediately.
var ErrAuth = errors.New("authentication failed")

// ErrStateStoreUnavailable marks an unreachable reconciliation state
// store. The run degrades to stateless mode rather than aborting.
var ErrStateStoreUnavailable = errors.New("state store unavailable")

// ErrSplitInvariant marks a split proposal whose parts do not sum to
// the entry amount. Defensive: construction absorbs remainders, so this
// should never fire, but callers fall back to a plain suggestion.
var ErrSplitInvariant = errors.New("split parts do not sum to entry amount")

// TransientError wraps a failure that may succeed on retry, such as a
// timeout or upstream 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IngestionError reports a source that yielded nothing and is not
// marked allow-empty. The run continues with other sources.
type IngestionError struct {
	Provider string
	Err      error
}

func (e *IngestionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s yielded no records", e.Provider)
	}
	return fmt.Sprintf("provider %s ingestion failed: %v", e.Provider, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ScoringInputError reports a single malformed record skipped during
// candidate building. Never aborts the batch.
type ScoringInputError struct {
	Kind   string // "ledger" or "source"
	ID     string
	Reason string
}

func (e *ScoringInputError) Error() string {
	return fmt.Sprintf("invalid %s record %s: %s", e.Kind, e.ID, e.Reason)
}
