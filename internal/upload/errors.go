package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies upload errors so handlers can map them to HTTP statuses
// without string matching.
type Kind int

const (
	// KindInvalidRequest covers malformed ranges, missing payloads,
	// end >= total violations and checksum mismatches
	KindInvalidRequest Kind = iota + 1
	// KindNotFound means the session id does not resolve to an owned,
	// non-terminal session
	KindNotFound
	// KindPermissionDenied means authentication is required but absent
	KindPermissionDenied
	// KindStorage means the blob sink or session store failed
	KindStorage
)

// Error is the typed error returned by the upload service
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to an HTTP status code
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func permissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

func storageError(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

// AsError extracts a typed upload error, if err carries one
func AsError(err error) (*Error, bool) {
	var uploadErr *Error
	if errors.As(err, &uploadErr) {
		return uploadErr, true
	}
	return nil, false
}

// IsKind reports whether err is an upload error of the given kind
func IsKind(err error, kind Kind) bool {
	uploadErr, ok := AsError(err)
	return ok && uploadErr.Kind == kind
}
