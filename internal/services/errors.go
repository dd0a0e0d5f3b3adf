// Package services implements the directory's business logic on top of the repositories:
// organization search with stable ordering and paging, organization administration, and
// the error classes the HTTP layer maps to status codes.
package services

import (
	"context"
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package wraps exactly one of
// them, so callers classify with errors.Is. The one exception is a store call
// made after the caller's context ended: that returns ctx.Err() unwrapped, see
// storeError.
var (
	// ErrInvalidArgument means the request itself is wrong; retrying it will not help
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotAuthorized means the operation needs an authenticated caller
	ErrNotAuthorized = errors.New("authentication required")
	// ErrNotFound means the addressed organization does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write collides with existing data
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable means the database failed to answer; the call may be retried
	ErrStorageUnavailable = errors.New("storage unavailable")
)

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func storageUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// storeError classifies a store failure. A caller that went away gets its
// own context error back rather than a retryable storage error.
func storeError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return storageUnavailable(op, err)
}
