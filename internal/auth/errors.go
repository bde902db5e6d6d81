package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidToken = errors.New("auth: invalid token")
)

const (
	msgInvalidCredentials = "Invalid username or password."
	msgInvalidRole        = "User role information is invalid."
	msgInvalidToken       = "Invalid or expired token."
)

// Kind classifies a failure so the transport boundary can pick a response code.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindConfiguration  Kind = "configuration"
	KindInternal       Kind = "internal"
)

// Error is a classified failure. Message is safe to show to callers; Err keeps
// the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, ErrAuthentication) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// Kind markers for errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrInternal       = &Error{Kind: KindInternal}
)

// AuthenticationFailure is returned for unknown users, inactive users and wrong
// passwords alike.
func AuthenticationFailure() *Error {
	return &Error{Kind: KindAuthentication, Message: msgInvalidCredentials}
}

// TokenFailure reports a missing or unusable session token. It still matches ErrInvalidToken.
func TokenFailure() *Error {
	return &Error{Kind: KindAuthentication, Message: msgInvalidToken, Err: ErrInvalidToken}
}

// AuthorizationFailure reports a missing role-tenant association.
func AuthorizationFailure() *Error {
	return &Error{Kind: KindAuthorization, Message: msgInvalidRole}
}

// ConfigurationError reports missing process configuration.
func ConfigurationError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// ValidationError reports a malformed request.
func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// InternalError wraps an unexpected failure.
func InternalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage is the caller-facing text for err. Internal and configuration
// failures are reduced to a generic message.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindConfiguration, KindInternal:
		return "internal error"
	default:
		return e.Message
	}
}
