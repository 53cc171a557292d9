package domain

import "errors"

// ErrorKind classifies failures so callers can decide how to surface them.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindBusinessRule ErrorKind = "business_rule"
	KindIntegration  ErrorKind = "integration"
	KindInvariant    ErrorKind = "invariant"
	KindUnknown      ErrorKind = "unknown"
)

type Error struct {
	kind ErrorKind
	msg  string
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) ErrorKind() ErrorKind {
	return e.kind
}

type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// IsOperatorFacing is true for failures the operator can fix at the counter.
func IsOperatorFacing(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindBusinessRule, KindIntegration:
		return true
	default:
		return false
	}
}
