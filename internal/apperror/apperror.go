// Package apperror defines the error taxonomy shared by services, workers and
// handlers. Every error carries a Kind (how the caller should react) and a
// reason code that clients switch on.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stemsi/exam-orchestrator/internal/response"
)

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindExhaustion
	KindRaceLoss
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindExhaustion:
		return "exhaustion"
	case KindRaceLoss:
		return "race_loss"
	default:
		return "internal"
	}
}

// Error is the concrete error type.
type Error struct {
	Kind Kind
	Code response.ErrCode
	Msg  string
	Err  error
	// Details is echoed to the client for conflicts that carry state
	// (e.g. the session state and terminated reason).
	Details map[string]any
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches client-visible details and returns e.
func (e *Error) WithDetails(kv map[string]any) *Error {
	e.Details = kv
	return e
}

func Validation(code response.ErrCode, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Msg: msg}
}

func NotFound(code response.ErrCode, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Msg: msg}
}

func Conflict(code response.ErrCode, msg string) *Error {
	return &Error{Kind: KindStateConflict, Code: code, Msg: msg}
}

func Exhaustion(msg string, err error) *Error {
	return &Error{Kind: KindExhaustion, Code: response.ErrQuestionPoolExhausted, Msg: msg, Err: err}
}

// RaceLoss reports that a guarded update matched zero rows.
func RaceLoss(msg string) *Error {
	return &Error{Kind: KindRaceLoss, Code: response.ErrConcurrentUpdate, Msg: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: response.ErrInternal, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// CodeOf returns the reason code carried by err.
func CodeOf(err error) response.ErrCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return response.ErrInternal
}

// HTTPStatus maps an error to the status code handlers should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict, KindRaceLoss:
		return http.StatusConflict
	case KindExhaustion:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
