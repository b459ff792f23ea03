package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeIdempotency         Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit           Code = "RATE_LIMIT_EXCEEDED"
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeCodeExhausted       Code = "REFERRAL_CODE_EXHAUSTED"
	CodePersistence         Code = "PERSISTENCE_FAILURE"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeDependency          Code = "DEPENDENCY_ERROR"
)

// Metadata drives how a code is rendered over HTTP.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage  bool
	DetailsAllowed bool
}

// clientFault builds metadata for 4xx codes, whose messages are written for callers.
func clientFault(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, ExposeMessage: true, DetailsAllowed: details}
}

// serverFault builds metadata for retryable 5xx codes; their messages stay in logs.
func serverFault(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: public, DetailsAllowed: details}
}

var registry = map[Code]Metadata{
	CodeValidation:          clientFault(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:        clientFault(http.StatusUnauthorized, "authentication required", false),
	CodeNotFound:            clientFault(http.StatusNotFound, "resource not found", false),
	CodeConflict:            clientFault(http.StatusConflict, "conflict detected", false),
	CodeIdempotency:         clientFault(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:           clientFault(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeInsufficientCredits: clientFault(http.StatusBadRequest, "insufficient credits", true),

	CodeCodeExhausted: serverFault(http.StatusInternalServerError, "could not allocate a referral code", false),
	CodePersistence:   serverFault(http.StatusServiceUnavailable, "storage temporarily unavailable", false),
	CodeInternal:      serverFault(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:    serverFault(http.StatusServiceUnavailable, "dependency unavailable", true),
}

// MetadataFor falls back to CodeInternal for unregistered codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := registry[code]; ok {
		return meta
	}
	return registry[CodeInternal]
}

// Error is a coded error. The message is for logs unless the code exposes it.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches a payload rendered only for codes that allow details.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// PublicMessage is the text safe to return to callers.
func (e *Error) PublicMessage() string {
	meta := MetadataFor(e.Code())
	if meta.ExposeMessage && e.Message() != "" {
		return e.message
	}
	return meta.PublicMessage
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the outermost typed error, or CodeInternal.
func CodeOf(err error) Code {
	return As(err).Code()
}

// IsCode reports whether err classifies as code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the caller may safely repeat the whole operation.
func IsRetryable(err error) bool {
	return err != nil && MetadataFor(CodeOf(err)).Retryable
}
