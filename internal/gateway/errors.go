package gateway

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrDispatchFailed  = errors.New("dispatch failed")
	ErrInternal        = errors.New("internal error")

	// ErrInvalidPhoneNumber is an ErrInvalidArgument.
	ErrInvalidPhoneNumber error = &kindError{kind: ErrInvalidArgument, msg: "invalid phone number format"}

	errStale = errors.New("stale generation")
	errSkip  = errors.New("nothing to do")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func invalidArgument(format string, args ...interface{}) error {
	return &kindError{kind: ErrInvalidArgument, msg: fmt.Sprintf(format, args...)}
}

func sessionNotFound(accountID string) error {
	return &kindError{kind: ErrSessionNotFound, msg: fmt.Sprintf("no active session for %q", accountID)}
}

// DispatchError wraps a failure returned by a session client.
type DispatchError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s via %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatchFailed }

// HTTPStatus maps an error to the status code the REST layer answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
