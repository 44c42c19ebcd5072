package krypto

import (
	"fmt"
	"log/slog"
)

// Secret wraps credentials for external services, such as API tokens and
// SMTP passwords, so they can be passed around without being printed.
type Secret struct {
	value []byte
}

func NewSecret(raw string) Secret {
	return Secret{
		value: []byte(raw),
	}
}

func (s Secret) Format(f fmt.State, verb rune) {
	f.Write([]byte(SecretMarker))
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}

// LogValue implements the slog.LogValuer interface.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(SecretMarker)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return len(s.value) == 0
}

// SecretValue returns the raw secret, for handing it to third party packages.
func (s Secret) SecretValue() []byte {
	return s.value
}

// SecretString is SecretValue as a string.
func (s Secret) SecretString() string {
	return string(s.value)
}
