package mdview

import "errors"

var (
	// ErrCompile marks an internal goldmark failure. Rendering into a
	// memory buffer does not fail for any input, so seeing it is a bug.
	ErrCompile = errors.New("markdown compilation failed")

	// ErrDocumentNotFound is returned when a document path cannot be stat'ed
	// or does not name a regular file.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyPath is returned when no document path was supplied.
	ErrEmptyPath = errors.New("empty document path")

	// ErrOutsideRoot is returned for document paths that resolve outside
	// the served directory.
	ErrOutsideRoot = errors.New("document outside root")
)
