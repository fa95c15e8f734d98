package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes failures so callers can decide whether to skip, retry or abort
type Kind string

const (
	KindValidation         Kind = "validation"
	KindLookup             Kind = "lookup"
	KindSamplerUnavailable Kind = "sampler_unavailable"
	KindPersistence        Kind = "persistence"
	KindConfiguration      Kind = "configuration"
)

// Error is a categorized application error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, errs.Validation) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	Validation         = &Error{Kind: KindValidation}
	Lookup             = &Error{Kind: KindLookup}
	SamplerUnavailable = &Error{Kind: KindSamplerUnavailable}
	Persistence        = &Error{Kind: KindPersistence}
	Configuration      = &Error{Kind: KindConfiguration}
)

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
