// Package api provides the typed client for the library file-service.
package api

import (
	"errors"
	"fmt"
)

// TransportError indicates the request never produced a usable response:
// connection refused, timeout, DNS failure, or a broken body mid-read.
type TransportError struct {
	Op  string // Operation name, e.g. "move", "count-files"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError indicates the server answered but reported failure,
// either via success:false in the JSON body or a non-2xx status.
type ApplicationError struct {
	Op      string
	Status  int    // HTTP status, 0 when the body carried success:false on a 200
	Message string // Server-supplied message when available
}

func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: server returned status %d", e.Op, e.Status)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsApplication reports whether err is (or wraps) an ApplicationError.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}
