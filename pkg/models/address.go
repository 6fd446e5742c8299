package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// AddressDelim joins the source name and the native id in the canonical form.
const AddressDelim = "/"

var addressPattern = regexp.MustCompile(`^([a-zA-Z0-9\-_.]+)` + regexp.QuoteMeta(AddressDelim) + `([a-zA-Z0-9\-_.]+)$`)

// ErrInvalidAddress is matched by every *AddressError.
var ErrInvalidAddress = errors.New("invalid address")

// AddressError reports a raw string that is not "source/nativeId".
type AddressError struct {
	Raw string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid address %q: expected <source>%s<id>", e.Raw, AddressDelim)
}

func (e *AddressError) Is(target error) bool { return target == ErrInvalidAddress }

// Address identifies a work at a specific remote source.
// The zero value is not valid; build one with ParseAddress or NewAddress.
type Address struct {
	source string
	nid    string
}

// ParseAddress parses "source/nativeId".
func ParseAddress(raw string) (Address, error) {
	m := addressPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Address{}, &AddressError{Raw: raw}
	}
	return Address{source: m[1], nid: m[2]}, nil
}

// NewAddress builds an address from its two tokens, validating both.
func NewAddress(source, nid string) (Address, error) {
	return ParseAddress(source + AddressDelim + nid)
}

// MustParseAddress is ParseAddress for literals in tests and wiring code.
func MustParseAddress(raw string) Address {
	a, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) Source() string { return a.source }
func (a Address) NID() string    { return a.nid }

// IsZero reports whether a was never parsed.
func (a Address) IsZero() bool { return a.source == "" && a.nid == "" }

// String renders the canonical, re-parseable form.
func (a Address) String() string {
	return a.source + AddressDelim + a.nid
}

// Equal compares canonical forms.
func (a Address) Equal(b Address) bool { return a.String() == b.String() }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
