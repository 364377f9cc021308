package transform

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/etlpipe/utils"
)

var (
	ErrUnsupportedFormat = utils.PermError("unsupported file format")
	ErrMalformedInput    = errors.New("malformed input")
)

// UnsupportedFormatError carries the offending extension, and matches ErrUnsupportedFormat.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %q", e.Ext)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

func malformed(path string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedInput, path, fmt.Sprintf(format, args...))
}
