package bencode

import "fmt"

// UnexpectedEOFError is returned when the input ends mid-value.
type UnexpectedEOFError struct{}

func (e *UnexpectedEOFError) Error() string { return "bencode: unexpected end of input" }

// BadDigitError is returned when a digit was expected but not found.
type BadDigitError struct{ Got byte }

func (e *BadDigitError) Error() string {
	return fmt.Sprintf("bencode: bad digit %q", e.Got)
}

// IntOverflowError is returned when an integer literal does not fit in int64.
type IntOverflowError struct{ Literal string }

func (e *IntOverflowError) Error() string {
	return fmt.Sprintf("bencode: integer overflow %q", e.Literal)
}

// BadLengthPrefixError is returned when a byte-string length prefix is
// malformed (contains a non-digit before the ':', or has a leading zero
// other than "0"). A value starting with '-' never reaches the length
// parser and is reported as UnhandledPrefixError instead.
type BadLengthPrefixError struct{ Literal string }

func (e *BadLengthPrefixError) Error() string {
	return fmt.Sprintf("bencode: bad length prefix %q", e.Literal)
}

// UnterminatedContainerError is returned when a list or dict never sees its
// closing 'e'.
type UnterminatedContainerError struct{ Kind string }

func (e *UnterminatedContainerError) Error() string {
	return fmt.Sprintf("bencode: unterminated %s", e.Kind)
}

// NonStringDictKeyError is returned when a dict key is not a byte string.
type NonStringDictKeyError struct{}

func (e *NonStringDictKeyError) Error() string { return "bencode: dict key is not a byte string" }

// UnhandledPrefixError is returned when the first byte of a value is none
// of 'i', 'l', 'd', or a digit.
type UnhandledPrefixError struct{ Byte byte }

func (e *UnhandledPrefixError) Error() string {
	return fmt.Sprintf("bencode: unhandled prefix byte %q", e.Byte)
}

// TrailingDataError is returned by Decode when the top-level value does not
// consume the entire input.
type TrailingDataError struct{ Remaining int }

func (e *TrailingDataError) Error() string {
	return fmt.Sprintf("bencode: %d trailing byte(s) after top-level value", e.Remaining)
}
