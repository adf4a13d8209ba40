package retrieval

import "errors"

var (
	// ErrElementNotFound is returned by a Fetcher when the document root never
	// became queryable within its retry budget.
	ErrElementNotFound = errors.New("element not found")
	// ErrFatal marks errors that must stop the whole run.
	ErrFatal = errors.New("fatal retrieval error")
)
