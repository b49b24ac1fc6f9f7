// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// Error kinds shared by the store, the similarity index and the graph
// builder. Callers test with errors.Is; implementations wrap the
// underlying cause next to the kind.
var (
	// ErrInvalidInput marks a malformed argument (bad vector, bad k).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownPaper marks a paper id that is not in the store.
	ErrUnknownPaper = errors.New("unknown paper")

	// ErrDimensionMismatch marks an embedding of the wrong length. It is a
	// data-integrity failure and must not be retried.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNotFound marks an expected lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrTimeout marks a store operation that ran past its deadline.
	// Callers retry with backoff.
	ErrTimeout = errors.New("timeout")

	// ErrConstraintViolation marks a uniqueness conflict, typically a race
	// between two writers inserting the same row.
	ErrConstraintViolation = errors.New("constraint violation")
)

// DimensionError reports an embedding whose length differs from the
// configured dimension.
type DimensionError struct {
	PaperID  int64
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	if e.PaperID != 0 {
		return fmt.Sprintf("dimension mismatch on paper %d: expected %d, got %d", e.PaperID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match a *DimensionError.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// IsRetryable reports whether err is transient and worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}
