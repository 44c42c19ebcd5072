package email

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidEmail indicates an email address is not valid.
var ErrInvalidEmail = errors.New("invalid email address")

// Address is a bare, lowercased email address.
type Address string

// ParseAddress checks that raw is shaped like an email address and lowercases it.
// It does not check that the address exists.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return Address(""), ErrInvalidEmail
	}

	// Reject display names and comments such as "Alice <alice@example.com>(comment)".
	if addr.Address != trimmed {
		return Address(""), ErrInvalidEmail
	}

	return Address(addr.Address), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*a = addr

	return nil
}

func (a Address) String() string {
	return string(a)
}
