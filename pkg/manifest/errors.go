package manifest

import (
	"fmt"
	"strings"
)

// Error reports why a manifest or template file could not be loaded.
type Error struct {
	// Path is the file at fault.
	Path string

	// Messages lists individual problems, one per line of output.
	Messages []string

	// Err is the underlying decoder, schema or validator error.
	Err error
}

func (e *Error) Error() string {
	switch len(e.Messages) {
	case 0:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Path, e.Err)
		}
		return e.Path + ": invalid manifest"
	case 1:
		return fmt.Sprintf("%s: %s", e.Path, e.Messages[0])
	default:
		return fmt.Sprintf("%s: %s", e.Path, strings.Join(e.Messages, "; "))
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(path string, err error, messages ...string) *Error {
	return &Error{Path: path, Messages: messages, Err: err}
}
