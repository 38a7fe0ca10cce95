// Package dispatcherrors distinguishes the three error categories of
// spec.md §7: protocol faults (surfaced to the sender as an error
// payload), gap detection (not an error), and invariant violations
// (fatal, the process terminates).
package dispatcherrors

import "github.com/pkg/errors"

// Fatal wraps an invariant-violation cause. cmd/node's run loop treats
// any error satisfying this as grounds to exit non-zero.
type Fatal struct {
	cause error
}

func NewFatal(format string, args ...interface{}) error {
	return &Fatal{cause: errors.Errorf(format, args...)}
}

func WrapFatal(cause error, message string) error {
	return &Fatal{cause: errors.Wrap(cause, message)}
}

func (f *Fatal) Error() string { return f.cause.Error() }
func (f *Fatal) Unwrap() error { return f.cause }

// IsFatal reports whether err is (or wraps) a Fatal.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
