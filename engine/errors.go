package engine

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a kind of engine failure. Define new errors via
// const SomeError = ErrorKind("something").
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Authorization failures.
const (
	ErrBadSignature = ErrorKind("bad signature")
	ErrPrivateOrder = ErrorKind("private order")
	ErrAccessDenied = ErrorKind("access denied")
)

// Temporal and state failures.
const (
	ErrOrderExpired                                  = ErrorKind("order expired")
	ErrWrongSeriesNonce                              = ErrorKind("wrong series nonce")
	ErrInvalidatedOrder                              = ErrorKind("invalidated order")
	ErrOrderIsNotSuitableForMassInvalidation         = ErrorKind("order is not suitable for mass invalidation")
	ErrEpochManagerAndBitInvalidatorsAreIncompatible = ErrorKind("epoch manager and bit invalidators are incompatible")
	ErrAdvanceEpochFailed                            = ErrorKind("advance epoch failed")
	ErrUnknownOrder                                  = ErrorKind("unknown order")
)

// Amount failures.
const (
	ErrSwapWithZeroAmount        = ErrorKind("swap with zero amount")
	ErrOnlyOneAmountShouldBeZero = ErrorKind("only one amount should be zero")
	ErrTakingAmountExceeded      = ErrorKind("taking amount exceeded")
	ErrTakingAmountTooHigh       = ErrorKind("taking amount too high")
	ErrMakingAmountExceeded      = ErrorKind("making amount exceeded")
	ErrMakingAmountTooLow        = ErrorKind("making amount too low")
	ErrPartialFillNotAllowed     = ErrorKind("partial fill not allowed")
	ErrAmountGetterFailed        = ErrorKind("amount getter failed")
)

// Predicate failures.
const (
	ErrPredicateIsNotTrue = ErrorKind("predicate is not true")
	ErrUnknownPredicate   = ErrorKind("unknown predicate")
)

// Transfer failures.
const (
	ErrTransferFromMakerToTakerFailed = ErrorKind("transfer from maker to taker failed")
	ErrTransferFromTakerToMakerFailed = ErrorKind("transfer from taker to maker failed")
	ErrPermitFailed                   = ErrorKind("permit failed")
	ErrInteractionFailed              = ErrorKind("taker interaction failed")
)

// Structural failures.
const (
	ErrMissingOrderExtension = ErrorKind("missing order extension")
	ErrExtensionInvalid      = ErrorKind("extension invalid")
	ErrReentrancyDetected    = ErrorKind("reentrancy detected")
	ErrInvalidMsgValue       = ErrorKind("invalid msg value")
	ErrInvalidOrder          = ErrorKind("invalid order")
)

// Kinds lists every ErrorKind the engine can return.
var Kinds = []ErrorKind{
	ErrBadSignature, ErrPrivateOrder, ErrAccessDenied,
	ErrOrderExpired, ErrWrongSeriesNonce, ErrInvalidatedOrder,
	ErrOrderIsNotSuitableForMassInvalidation, ErrEpochManagerAndBitInvalidatorsAreIncompatible,
	ErrAdvanceEpochFailed, ErrUnknownOrder,
	ErrSwapWithZeroAmount, ErrOnlyOneAmountShouldBeZero, ErrTakingAmountExceeded,
	ErrTakingAmountTooHigh, ErrMakingAmountExceeded, ErrMakingAmountTooLow, ErrPartialFillNotAllowed, ErrAmountGetterFailed,
	ErrPredicateIsNotTrue, ErrUnknownPredicate,
	ErrTransferFromMakerToTakerFailed, ErrTransferFromTakerToMakerFailed, ErrPermitFailed, ErrInteractionFailed,
	ErrMissingOrderExtension, ErrExtensionInvalid, ErrReentrancyDetected, ErrInvalidMsgValue, ErrInvalidOrder,
}

// Error pairs an ErrorKind with details and, optionally, the error that
// caused it.
type Error struct {
	wrapped error
	detail  string
	cause   error
}

// Error satisfies the error interface, combining the wrapped error message with
// the details.
func (e Error) Error() string {
	msg := e.wrapped.Error() + ": " + e.detail
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the wrapped kind and the cause, allowing errors.Is and
// errors.As to match either.
func (e Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.wrapped}
	}
	return []error{e.wrapped, e.cause}
}

// NewError wraps the provided error with details.
func NewError(err error, detail string) Error {
	return Error{
		wrapped: err,
		detail:  detail,
	}
}

func newError(kind ErrorKind, format string, args ...interface{}) error {
	return Error{wrapped: kind, detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error, format string, args ...interface{}) error {
	return Error{wrapped: kind, detail: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf returns the outermost ErrorKind in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e Error
	if errors.As(err, &e) {
		if kind, ok := e.wrapped.(ErrorKind); ok {
			return kind, true
		}
	}
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind, true
	}
	return "", false
}
