package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies pictogram failures for callers and the HTTP layer
type ErrorKind int

const (
	// ErrorKindInternal - transport failure, malformed origin response, unmaskable store failure
	ErrorKindInternal ErrorKind = iota

	// ErrorKindBadRequest - malformed caller input (empty query, non-positive id)
	ErrorKindBadRequest

	// ErrorKindNotFound - the origin confirms there is no such pictogram
	ErrorKindNotFound

	// ErrorKindRateLimited - the origin is throttling us; callers should retry later
	ErrorKindRateLimited
)

// String returns a human-readable kind name
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindBadRequest:
		return "bad_request"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind onto the status the API answers with
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrorKindBadRequest:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PictogramError wraps failures with their classification
type PictogramError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int   // origin HTTP status if applicable
	Cause      error // original error
}

func (e *PictogramError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PictogramError) Unwrap() error {
	return e.Cause
}

func badRequest(msg string) error {
	return &PictogramError{Kind: ErrorKindBadRequest, Message: msg}
}

func notFound(msg string) error {
	return &PictogramError{Kind: ErrorKindNotFound, Message: msg}
}

func internalError(msg string, cause error) error {
	return &PictogramError{Kind: ErrorKindInternal, Message: msg, Cause: cause}
}

// ClassifyOriginStatus turns a non-success origin status into an error.
// 404 is not handled here: the origin uses it for "no matches".
func ClassifyOriginStatus(statusCode int) *PictogramError {
	if statusCode == http.StatusTooManyRequests {
		return &PictogramError{
			Kind:       ErrorKindRateLimited,
			Message:    "pictogram origin rate limit reached, please retry shortly",
			StatusCode: statusCode,
		}
	}
	return &PictogramError{
		Kind:       ErrorKindInternal,
		Message:    fmt.Sprintf("pictogram origin request failed with status %d", statusCode),
		StatusCode: statusCode,
	}
}

// KindOf returns the classification of err; unclassified errors are internal
func KindOf(err error) ErrorKind {
	var pe *PictogramError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindInternal
}

// IsNotFound reports whether err means the origin has no such pictogram
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == ErrorKindNotFound
}

// IsRateLimited reports whether err is origin throttling
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == ErrorKindRateLimited
}

// IsBadRequest reports whether err is a caller input error
func IsBadRequest(err error) bool {
	return err != nil && KindOf(err) == ErrorKindBadRequest
}
