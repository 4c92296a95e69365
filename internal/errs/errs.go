// Package errs provides the sentinel error type and wrapping helpers used
// throughout sipcore, in place of ad-hoc fmt.Errorf chains.
package errs

//go:generate errtrace -w .

import (
	"errors"
	"fmt"
	"strings"

	"braces.dev/errtrace"
)

// Error is a string-backed sentinel error, comparable with errors.Is.
type Error string

func (e Error) Error() string { return string(e) }

// Wrap wraps err with a sentinel, unless err already satisfies it.
// Returns nil if err is nil.
func Wrap(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(fmt.Errorf("%w: %w", sentinel, err))
}

// Wrapf wraps a sentinel with a formatted message.
func Wrapf(sentinel error, format string, args ...any) error {
	return errtrace.Wrap(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

// Join concatenates multiple errors with an optional prefix label, for
// reporting e.g. multiple malformed headers at once.
func Join(prefix string, errs ...error) error {
	kept := errs[:0]
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if len(kept) == 1 && prefix == "" {
		return kept[0]
	}
	return &multiError{prefix: prefix, errs: kept}
}

type multiError struct {
	prefix string
	errs   []error
}

func (e *multiError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.prefix)
	for _, err := range e.errs {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *multiError) Unwrap() []error { return e.errs }
