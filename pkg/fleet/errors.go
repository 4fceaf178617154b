package fleet

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAllNodesStale is returned when the cached snapshot is past the staleness threshold
	// and could not be refreshed.
	ErrAllNodesStale = errors.New("all nodes manager's data are stale")

	// ErrDuplicateNode is returned when the manager reports the same node id twice.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrEmptyManagerURL is returned when the cache is built without a manager URL.
	ErrEmptyManagerURL = errors.New("manager url is required")
)

// FetchError reports an unreachable manager or a malformed manager payload.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("fetch %s: manager returned status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
