package mailstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInternal matches (via errors.Is) every failure that is not a
	// precondition conflict: backend, I/O and decoding faults. Such errors are
	// never retried by this package.
	ErrInternal = errors.New("internal error")

	// ErrAssertValueFailed is returned by Write when a precondition of the
	// batch did not hold. Nothing from the batch has been applied; re-read and
	// retry.
	ErrAssertValueFailed = errors.New("transaction failed: value assertion mismatch")

	// ErrUnbalancedFilter is returned for filter sequences whose And/Or/Not
	// tokens are not matched by End tokens at the same depth.
	ErrUnbalancedFilter = errors.New("unbalanced filter")
)

// IsAssertValueFailed reports whether err is a compare-and-swap conflict.
func IsAssertValueFailed(err error) bool {
	return errors.Is(err, ErrAssertValueFailed)
}

// DataError describes malformed persisted bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ErrInternal
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// Error is the generic internal failure: an operation name, the key it was
// working on (if any) and the underlying cause.
type Error struct {
	Op  string
	Key []byte
	Msg string
	Err error
}

func internalErrf(op string, key []byte, err error, format string, args ...any) error {
	if err != nil && errors.Is(err, ErrAssertValueFailed) {
		return err
	}
	return &Error{op, key, fmt.Sprintf(format, args...), err}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrInternal
}

func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	if e.Key != nil {
		buf.WriteByte(' ')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
