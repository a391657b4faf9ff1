package contacts

import (
	"errors"
	"fmt"
)

// FormatError is returned when a contact file has an extension we cannot read.
type FormatError struct {
	Path string
	Ext  string
}

func (e *FormatError) Error() string {
	if e.Ext == ".xls" {
		return fmt.Sprintf("contacts: legacy .xls workbooks are not supported, save %s as .xlsx", e.Path)
	}
	return fmt.Sprintf("contacts: unsupported file format %q (use .csv, .txt, .xlsx or .xlsm): %s", e.Ext, e.Path)
}

// ParseError wraps failures to open, download or decode a contact file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("contacts: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsValidation reports whether err means the input file itself is unusable.
// These errors abort a run before anything is dispatched.
func IsValidation(err error) bool {
	var fe *FormatError
	var pe *ParseError
	return errors.As(err, &fe) || errors.As(err, &pe)
}
