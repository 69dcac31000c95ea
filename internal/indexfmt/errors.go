package indexfmt

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic indicates the stream does not start with the index magic
	ErrBadMagic = errors.New("bad magic")

	// ErrUnsupportedVersion indicates an unknown format version
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrUnexpectedKind indicates a full index where a chunk was expected or vice versa
	ErrUnexpectedKind = errors.New("unexpected resource kind")

	// ErrTruncated indicates the stream ended before the end marker
	ErrTruncated = errors.New("truncated stream")

	// ErrTrailingData indicates bytes after the end marker
	ErrTrailingData = errors.New("data after end marker")

	// ErrUnknownOp indicates an entry with an unknown operation byte
	ErrUnknownOp = errors.New("unknown entry operation")

	// ErrDuplicateRecord indicates two records with the same identity in a full index
	ErrDuplicateRecord = errors.New("duplicate record identity")

	// ErrDuplicateField indicates a field name repeated within a record
	ErrDuplicateField = errors.New("duplicate field")

	// ErrFieldTooLarge indicates a field value above MaxValueSize
	ErrFieldTooLarge = errors.New("field value too large")

	// ErrReservedField indicates an extra field named like a core field
	ErrReservedField = errors.New("extra field uses a reserved name")

	// ErrMissingTimestamp indicates a properties resource without index.timestamp
	ErrMissingTimestamp = errors.New("missing index timestamp")
)

// FormatError reports malformed index, chunk, record or properties data.
type FormatError struct {
	// Op is the decoding operation, e.g. "decode chunk".
	Op string
	// Entry is the zero-based entry number, or -1 when not entry specific.
	Entry int
	Err   error
}

func (e *FormatError) Error() string {
	if e.Entry >= 0 {
		return fmt.Sprintf("format error: %s: entry %d: %v", e.Op, e.Entry, e.Err)
	}
	return fmt.Sprintf("format error: %s: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErr(op string, entry int, err error) error {
	return &FormatError{Op: op, Entry: entry, Err: err}
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
