package document

import "errors"

var (
	// ErrInvalidOperation is returned when a local mutation violates a
	// structural precondition (offset or index out of bounds, empty map
	// key). The document is left untouched and no update is emitted.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrClosed is returned when the document has been released.
	ErrClosed = errors.New("document is closed")
)
