package pathcodec

import (
	"errors"
	"fmt"
)

var (
	// ErrPathConflict indicates two entries address the same node, or one entry
	// is a leaf on the path of another.
	ErrPathConflict = errors.New("conflicting field paths")

	// ErrEmptyPath indicates an entry without any path segment.
	ErrEmptyPath = errors.New("empty field path")
)

// MalformedLeafError is returned when a leaf's text is not a valid JSON literal.
type MalformedLeafError struct {
	Path    string // Joined field path
	RawText string // Text as submitted
	Err     error  // Underlying parse error
}

func (e *MalformedLeafError) Error() string {
	return fmt.Sprintf("malformed value for field %s: %v", e.Path, e.Err)
}

func (e *MalformedLeafError) Unwrap() error {
	return e.Err
}

// IsMalformedLeaf reports whether err carries a MalformedLeafError.
func IsMalformedLeaf(err error) bool {
	var target *MalformedLeafError

	return errors.As(err, &target)
}
