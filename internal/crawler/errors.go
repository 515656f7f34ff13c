package crawler

import (
	"errors"
	"fmt"
)

// Error classes shared by the harvest and normalize stages.
var (
	// ErrTransientNetwork marks timeouts and connection failures. Retryable.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrUpstreamFormat marks a site response that no longer matches the
	// expected form or listing structure. Aborts the current partition.
	ErrUpstreamFormat = errors.New("upstream format error")
	// ErrStorageBackend marks an unavailable object store or database. Aborts
	// the current stage run.
	ErrStorageBackend = errors.New("storage backend error")
	// ErrObjectNotFound is returned by ObjectStore.Get for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout          FetchErrorKind = "timeout"
	FetchTransport        FetchErrorKind = "transport"
	FetchNonSuccessStatus FetchErrorKind = "non_success_status"
)

// FetchError describes a fetch that did not yield a 2xx response.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchNonSuccessStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets timeouts and transport failures match ErrTransientNetwork.
func (e *FetchError) Is(target error) bool {
	return target == ErrTransientNetwork && e.Kind != FetchNonSuccessStatus
}

// Temporary reports whether a retry may succeed.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case FetchTimeout, FetchTransport:
		return true
	default:
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
}

// UpstreamFormatf wraps a formatted message in ErrUpstreamFormat.
func UpstreamFormatf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstreamFormat, fmt.Sprintf(format, args...))
}

// StorageBackend wraps err in ErrStorageBackend with context.
func StorageBackend(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageBackend, op, err)
}
