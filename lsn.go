package walcore

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is a log sequence number: a byte position in the logical
// write-ahead log.
//
// The conventional rendering is two hex halves separated by a slash,
// with the low half zero-padded to eight digits.
type LSN uint64

// InvalidLSN is the reserved "no position" value.
const InvalidLSN LSN = 0

func (l LSN) String() string {
	return fmt.Sprintf("%X/%08X", uint32(l>>32), uint32(l))
}

// Valid reports whether the LSN is a real log position.
func (l LSN) Valid() bool { return l != InvalidLSN }

// MarshalText implements [encoding.TextMarshaler].
func (l LSN) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (l *LSN) UnmarshalText(t []byte) error {
	v, err := ParseLSN(string(t))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLSN parses the "HI/LO" rendering of a log position.
func ParseLSN(s string) (LSN, error) {
	hi, lo, ok := strings.Cut(s, "/")
	if !ok {
		return InvalidLSN, &LSNError{Text: s, msg: "missing separator"}
	}
	h, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return InvalidLSN, &LSNError{Text: s, msg: "bad high half", inner: err}
	}
	x, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return InvalidLSN, &LSNError{Text: s, msg: "bad low half", inner: err}
	}
	return LSN(h<<32 | x), nil
}

// LSNError reports a malformed LSN rendering.
type LSNError struct {
	Text  string
	msg   string
	inner error
}

// Error implements error.
func (e *LSNError) Error() string {
	if e.inner == nil {
		return fmt.Sprintf("invalid LSN %q: %s", e.Text, e.msg)
	}
	return fmt.Sprintf("invalid LSN %q: %s: %v", e.Text, e.msg, e.inner)
}

// Unwrap enables [errors.Is] and [errors.As] on the cause.
func (e *LSNError) Unwrap() error { return e.inner }
