package xdr

import (
	"errors"
	"fmt"
)

// CodecError reports a buffer that could not be decoded: truncated input,
// an out-of-range length, or a value outside its domain.
//
// Err carries the underlying cause (usually io.ErrUnexpectedEOF or io.EOF)
// so callers can still match on it with errors.Is.
type CodecError struct {
	Field string
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("xdr: decode %s: %v", e.Field, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// IsCodecError reports whether err is, or wraps, a *CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

func codecErr(field string, err error) error {
	// A nested decode already produced a CodecError; keep the innermost field.
	var ce *CodecError
	if errors.As(err, &ce) {
		return err
	}
	return &CodecError{Field: field, Err: err}
}

// ErrLengthExceeded is wrapped by CodecError when a declared opaque or string
// length is larger than the permitted maximum.
var ErrLengthExceeded = errors.New("declared length exceeds maximum")
