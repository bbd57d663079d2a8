package extractor

import (
	"github.com/pkg/errors"
)

// Run failures fall in one of these categories, test with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrRead          = errors.New("read error")
	ErrWrite         = errors.New("write error")
	ErrDecode        = errors.New("decode error")
)

// Error ties a failure to its category.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func readError(err error, format string, args ...interface{}) error {
	return &Error{Kind: ErrRead, Err: errors.Wrapf(err, format, args...)}
}

func writeError(err error, format string, args ...interface{}) error {
	return &Error{Kind: ErrWrite, Err: errors.Wrapf(err, format, args...)}
}

func decodeError(err error, format string, args ...interface{}) error {
	return &Error{Kind: ErrDecode, Err: errors.Wrapf(err, format, args...)}
}
