package vtex

import (
	"errors"
	"fmt"
)

var ErrMissingQueryHash = errors.New("vtex: persisted query hash is not configured")

// FetchError reports a failed suggestions query for one term at one
// storefront.
type FetchError struct {
	Source string
	Term   string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q from %s: %v", e.Term, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
