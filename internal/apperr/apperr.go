package apperr

import (
	"errors"
	"net/http"
)

// Kind — закрытый набор категорий ошибок, которые видит клиент.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidCredentials
	KindConflict
	KindForbidden
	KindUnauthorized
	KindInvalidOrExpired
	KindWeakPassword
	KindNotFound
	KindTooManyRequests
	KindValidation
	KindAlreadyVerified
)

var kindCodes = map[Kind]string{
	KindInternal:           "INTERNAL",
	KindInvalidCredentials: "INVALID_CREDENTIALS",
	KindConflict:           "CONFLICT",
	KindForbidden:          "FORBIDDEN",
	KindUnauthorized:       "UNAUTHORIZED",
	KindInvalidOrExpired:   "INVALID_OR_EXPIRED",
	KindWeakPassword:       "WEAK_PASSWORD",
	KindNotFound:           "NOT_FOUND",
	KindTooManyRequests:    "TOO_MANY_REQUESTS",
	KindValidation:         "VALIDATION",
	KindAlreadyVerified:    "ALREADY_VERIFIED",
}

// Code is the stable machine-readable name returned in error bodies.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindInternal]
}

func (k Kind) String() string { return k.Code() }

// HTTPStatus maps a kind to its transport status. It has no other inputs.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidCredentials, KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict, KindAlreadyVerified:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidOrExpired, KindWeakPassword, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrConflict) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Internal wraps an infrastructure failure. The message stays generic on the wire.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf returns KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage is the text safe to show a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

// ErrInternal — готовая ошибка для мест без исходной причины (panic recovery).
var ErrInternal = New(KindInternal, "internal server error")
