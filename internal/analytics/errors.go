package analytics

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches any *FetchError.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrScopeDivisionNotFound matches any *ScopeError.
	ErrScopeDivisionNotFound = errors.New("scope division not found")
	ErrDivisionNotFound      = errors.New("division not found")
	ErrBlockNotFound         = errors.New("block not found")
	ErrNoDivision            = errors.New("actor has no division")
)

// FetchError reports that one source collection could not be retrieved. The
// whole run is aborted when it occurs.
type FetchError struct {
	Collection string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Collection, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// ScopeError reports that the actor's own division is missing from a snapshot
// that was otherwise fetched successfully.
type ScopeError struct {
	DivisionID int64
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope division %d not found", e.DivisionID)
}

func (e *ScopeError) Is(target error) bool {
	return target == ErrScopeDivisionNotFound
}

// ErrorKind groups run errors by how a surface should report them.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindFetchFailure    ErrorKind = "fetch_failure"
	KindScopeResolution ErrorKind = "scope_resolution_failure"
	KindNotFound        ErrorKind = "not_found"
	KindOther           ErrorKind = "other"
)

// KindOf classifies err for user-facing surfaces.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFetchFailed):
		return KindFetchFailure
	case errors.Is(err, ErrScopeDivisionNotFound):
		return KindScopeResolution
	case errors.Is(err, ErrDivisionNotFound), errors.Is(err, ErrBlockNotFound), errors.Is(err, ErrNoDivision):
		return KindNotFound
	}
	return KindOther
}
