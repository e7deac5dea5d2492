package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies chain processing failures. The kind decides whether a
// block is buffered, dropped, or treated as evidence of peer misbehavior.
type ErrorKind int

const (
	// ErrKindOther is an unclassified runtime or internal failure.
	ErrKindOther ErrorKind = iota
	// ErrKindOrphan means the block's predecessor is not known yet.
	ErrKindOrphan
	// ErrKindUnfit is a benign rejection, typically a duplicate.
	ErrKindUnfit
	// ErrKindOldBlock is a duplicate far below the head; the sender is abusive.
	ErrKindOldBlock
	// ErrKindInvalidSignature means the proposer signature did not verify.
	ErrKindInvalidSignature
	// ErrKindInvalidBlockFutureTime means the timestamp is too far ahead.
	ErrKindInvalidBlockFutureTime
	// ErrKindInvalidBlockPastTime means the timestamp does not progress.
	ErrKindInvalidBlockPastTime
	// ErrKindInvalidBlockWeight means the claimed weight disagrees with the runtime.
	ErrKindInvalidBlockWeight
	// ErrKindInvalidStateRoot means the previous state root does not match ours.
	ErrKindInvalidStateRoot
	// ErrKindInvalidStatePayload means bad transactions or a bad state snapshot.
	ErrKindInvalidStatePayload
	// ErrKindInvalidChain means a head update referenced missing ancestors.
	ErrKindInvalidChain
	// ErrKindDBNotFound means a store entry is missing.
	ErrKindDBNotFound
	// ErrKindIO is a storage failure.
	ErrKindIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindOrphan:
		return "Orphan"
	case ErrKindUnfit:
		return "Unfit"
	case ErrKindOldBlock:
		return "OldBlock"
	case ErrKindInvalidSignature:
		return "InvalidSignature"
	case ErrKindInvalidBlockFutureTime:
		return "InvalidBlockFutureTime"
	case ErrKindInvalidBlockPastTime:
		return "InvalidBlockPastTime"
	case ErrKindInvalidBlockWeight:
		return "InvalidBlockWeight"
	case ErrKindInvalidStateRoot:
		return "InvalidStateRoot"
	case ErrKindInvalidStatePayload:
		return "InvalidStatePayload"
	case ErrKindInvalidChain:
		return "InvalidChain"
	case ErrKindDBNotFound:
		return "DBNotFoundErr"
	case ErrKindIO:
		return "IO"
	default:
		return "Other"
	}
}

// Error is a chain processing failure carrying its kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match two chain errors of the same kind. A target with a
// message only matches an error carrying the same message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func chainErr(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func chainErrf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ErrOrphan is the sentinel matched when a block's predecessor is unknown.
var ErrOrphan = &Error{Kind: ErrKindOrphan}

// KindOf extracts the chain error kind, defaulting to ErrKindOther.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindOther
}

// IsOrphan reports whether the error marks an unknown predecessor.
func IsOrphan(err error) bool { return KindOf(err) == ErrKindOrphan }

// IsUnfit reports whether the error is a benign rejection.
func IsUnfit(err error) bool { return KindOf(err) == ErrKindUnfit }

// IsNotFound reports whether the error marks a missing store entry.
func IsNotFound(err error) bool { return KindOf(err) == ErrKindDBNotFound }
