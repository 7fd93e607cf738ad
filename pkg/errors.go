// Package pkg holds small helpers shared by every layer: domain errors and
// the JSON response envelope.
package pkg

import "errors"

// Domain errors. Services return them (usually wrapped with %w) and the
// handler layer maps them to HTTP status codes. The client package maps the
// status codes back, so errors.Is works on both sides of the wire.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
	ErrInternal        = errors.New("internal error")
)
