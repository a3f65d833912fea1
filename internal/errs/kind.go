package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failed store operation.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindLoad: thread list or message page fetch failed.
	KindLoad
	// KindSend: message send was rejected; never retried by the store.
	KindSend
	// KindDelete: delete was rejected; the message stays visible.
	KindDelete
	// KindMarkRead: best-effort read marking failed; logged only.
	KindMarkRead
	// KindInvalidThread: malformed thread rejected at the store boundary.
	KindInvalidThread
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "LoadFailure"
	case KindSend:
		return "SendFailure"
	case KindDelete:
		return "DeleteFailure"
	case KindMarkRead:
		return "MarkReadFailure"
	case KindInvalidThread:
		return "InvalidThread"
	default:
		return "Unknown"
	}
}

// Error is a classified failure of a store operation.
type Error struct {
	Kind Kind
	Op   string // operation name, e.g. "loadMessages"
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with kind and op. A nil err stays nil.
func Classify(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}
