package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

type (
	// NotFoundError indicates a resource was not found or has expired.
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input.
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure.
	UnauthorizedError struct {
		Message string
	}

	// ForbiddenError indicates the caller does not own the resource
	// or is not allowed to perform the operation.
	ForbiddenError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string    { return e.Message }

func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }

// Is hooks let errors.Is() match the typed errors against their sentinels.
func (e *NotFoundError) Is(target error) bool     { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool   { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }
func (e *ForbiddenError) Is(target error) bool    { return target == ErrForbidden }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadFormat    = errors.New("malformed content")
)

// ConflictError reports that a content write lost a race: the digest the
// writer observed before the write is no longer the stored digest. The
// operation is safe to retry after re-reading.
type ConflictError struct {
	Message      string
	ExpectedHash string
	CurrentHash  string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// FormatError indicates persisted or uploaded content does not have the
// expected shape (e.g. not a JSON object).
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return e.Message
}

func (e *FormatError) StatusCode() int {
	return http.StatusUnprocessableEntity
}

// Is allows errors.Is() to match against ErrBadFormat
func (e *FormatError) Is(target error) bool {
	return target == ErrBadFormat
}
