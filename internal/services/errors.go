package services

import (
	"context"
	"errors"
	"fmt"

	gateway "github.com/nimasrn/credit-topup/internal/gateways"
	xhttp "github.com/nimasrn/credit-topup/pkg/http"
)

// Kind classifies a service failure by how the caller should react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindAuthentication
	KindNotFound
	KindIntegration
	KindTransient
	KindConfiguration
)

// authenticationMessage is returned for every failed authentication so the
// response does not reveal which part of the check failed.
const authenticationMessage = "authentication failed"

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindIntegration:
		return "integration"
	case KindTransient:
		return "transient"
	case KindConfiguration:
		return "configuration"
	}
	return "internal"
}

// HTTPStatus is the response status a handler answers with for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return xhttp.StatusBadRequest
	case KindAuthorization:
		return xhttp.StatusForbidden
	case KindAuthentication:
		return xhttp.StatusUnauthorized
	case KindNotFound:
		return xhttp.StatusNotFound
	case KindTransient:
		return xhttp.StatusServiceUnavailable
	}
	return xhttp.StatusInternalServerError
}

type Error struct {
	Kind  Kind
	Cause error
}

func NewServiceError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Message is safe to show to the caller.
func (e *Error) Message() string {
	switch e.Kind {
	case KindAuthentication:
		return authenticationMessage
	case KindInternal, KindConfiguration:
		return "internal error"
	case KindTransient:
		return "temporarily unavailable, retry later"
	}
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Cause.Error()
}

// KindOf reports the kind of err, KindInternal when err is not a service error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func validationError(format string, args ...any) *Error {
	return NewServiceError(KindValidation, fmt.Errorf(format, args...))
}

// gatewayError classifies a payment gateway failure.
func gatewayError(err error) *Error {
	switch {
	case errors.Is(err, gateway.ErrNotConfigured):
		return NewServiceError(KindConfiguration, err)
	case gateway.IsTransient(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewServiceError(KindTransient, err)
	}
	return NewServiceError(KindIntegration, err)
}

// storeError classifies an unexpected persistence failure. Every write the
// settlement path makes is idempotent, so a retry is safe.
func storeError(err error) *Error {
	return NewServiceError(KindTransient, err)
}
