package engine

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the class of an engine failure.
type ErrorKind int

const (
	KindUniqueViolated ErrorKind = iota + 1
	KindInvalidField
	KindInvalidQuery
	KindInvalidModifier
	KindInvalidCursor
	KindSchemaViolation
	KindCorrupt
	KindClosed
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindUniqueViolated:
		return "uniqueViolated"
	case KindInvalidField:
		return "invalidField"
	case KindInvalidQuery:
		return "invalidQuery"
	case KindInvalidModifier:
		return "invalidModifier"
	case KindInvalidCursor:
		return "invalidCursor"
	case KindSchemaViolation:
		return "schemaViolation"
	case KindCorrupt:
		return "corrupt"
	case KindClosed:
		return "closed"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrUniqueViolated  = errors.New("unique constraint violated")
	ErrInvalidField    = errors.New("invalid field name")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrInvalidModifier = errors.New("invalid update modifier")
	ErrInvalidCursor   = errors.New("invalid cursor parameter")
	ErrSchemaViolation = errors.New("document violates schema")
	ErrCorrupt         = errors.New("datafile corrupt")
	ErrClosed          = errors.New("engine closed")
	ErrIO              = errors.New("persistence failure")
)

var kindSentinels = map[ErrorKind]error{
	KindUniqueViolated:  ErrUniqueViolated,
	KindInvalidField:    ErrInvalidField,
	KindInvalidQuery:    ErrInvalidQuery,
	KindInvalidModifier: ErrInvalidModifier,
	KindInvalidCursor:   ErrInvalidCursor,
	KindSchemaViolation: ErrSchemaViolation,
	KindCorrupt:         ErrCorrupt,
	KindClosed:          ErrClosed,
	KindIO:              ErrIO,
}

// Error is the error value engines report. Field and Key are set when the
// failure concerns a specific index field or key.
type Error struct {
	Kind    ErrorKind
	Field   string
	Key     any
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an engine error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return 0
}
