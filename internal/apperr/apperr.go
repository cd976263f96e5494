package apperr

import (
	"errors"
	"net/http"
)

// Code is the stable, machine readable kind of a failure. Clients switch on it.
type Code string

const (
	CodeInvalidOdds         Code = "invalid_odds"
	CodeInvalidUpgrade      Code = "invalid_upgrade"
	CodeInvalidSeed         Code = "invalid_seed"
	CodeInvalidRequest      Code = "invalid_request"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeNotFound            Code = "not_found"
	CodeInvalidState        Code = "invalid_state"
	CodeConflict            Code = "conflict"
	CodeResolution          Code = "resolution_error"
	CodeSettlementTimeout   Code = "settlement_timeout"
	CodeSettlementFailed    Code = "settlement_failed"
	CodeInternal            Code = "internal"
)

// Class tells a client what to do about a failure.
type Class string

const (
	ClassFixInput       Class = "fix_input"
	ClassTryAgain       Class = "try_again"
	ClassContactSupport Class = "contact_support"
)

var (
	ErrInvalidOdds         = &Error{Code: CodeInvalidOdds}
	ErrInvalidUpgrade      = &Error{Code: CodeInvalidUpgrade}
	ErrInvalidSeed         = &Error{Code: CodeInvalidSeed}
	ErrInvalidRequest      = &Error{Code: CodeInvalidRequest}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrInvalidState        = &Error{Code: CodeInvalidState}
	ErrConflict            = &Error{Code: CodeConflict}
	ErrResolution          = &Error{Code: CodeResolution}
	ErrSettlementTimeout   = &Error{Code: CodeSettlementTimeout}
	ErrSettlementFailed    = &Error{Code: CodeSettlementFailed}
	ErrInternal            = &Error{Code: CodeInternal}
)

// Error is a classified failure. Two errors match under errors.Is when their
// codes are equal, so the package level sentinels work as targets.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// E builds a classified error for op.
func E(code Code, op, msg string) error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// Wrap classifies err under code. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code of the outermost classified error in the chain,
// or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ClassOf groups a code into what the caller should do next.
func ClassOf(code Code) Class {
	switch code {
	case CodeInvalidOdds, CodeInvalidUpgrade, CodeInvalidSeed, CodeInvalidRequest,
		CodeInsufficientBalance, CodeNotFound, CodeInvalidState:
		return ClassFixInput
	case CodeConflict, CodeSettlementTimeout, CodeSettlementFailed:
		return ClassTryAgain
	default:
		return ClassContactSupport
	}
}

// HTTPStatus maps a code onto a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidOdds, CodeInvalidUpgrade, CodeInvalidSeed, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeConflict:
		return http.StatusConflict
	case CodeSettlementTimeout:
		return http.StatusGatewayTimeout
	case CodeSettlementFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
