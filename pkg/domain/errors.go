package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrDecode        = errors.New("response body is not valid JSON")
	ErrEncode        = errors.New("mutated document failed to encode")
	ErrUnknownApp    = errors.New("unknown application")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// DecodeError is recorded when a matched exchange's body cannot be decoded.
// The body is passed through unchanged.
type DecodeError struct {
	App   string
	Route string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Route != "" {
		return fmt.Sprintf("decode %s/%s: %v", e.App, e.Route, e.Err)
	}
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// EncodeError is recorded when a mutated document does not serialize to valid
// JSON. The pre-mutation body is returned instead.
type EncodeError struct {
	App   string
	Route string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s/%s: %v", e.App, e.Route, e.Err)
}

func (e *EncodeError) Unwrap() []error {
	return []error{ErrEncode, e.Err}
}
