package krypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	keyLen = 32

	// SecretMarker is a string we can look for in logs to see if the app
	// is accidentally exposing secrets.
	SecretMarker = "<!SECRET_REDACTED!>"
)

var ErrInvalidKey = errors.New("invalid key")

// Key is a 32 byte symmetric key. It never prints its value.
type Key struct {
	value []byte
}

// ParseKey expects a hex encoded key of 32 bytes (64 characters).
func ParseKey(raw string) (Key, error) {
	if len(raw) != keyLen*2 {
		return Key{}, ErrInvalidKey
	}

	k, err := hex.DecodeString(raw)
	if err != nil {
		return Key{}, ErrInvalidKey
	}

	return Key{value: k}, nil
}

// ParseKeys parses a comma separated list of hex encoded keys, oldest first.
func ParseKeys(raw string) ([]Key, error) {
	var keys []Key
	for i, part := range strings.Split(raw, ",") {
		k, err := ParseKey(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (k Key) Format(f fmt.State, verb rune) {
	f.Write([]byte(SecretMarker))
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}

// LogValue implements the slog.LogValuer interface.
func (k Key) LogValue() slog.Value {
	return slog.StringValue(SecretMarker)
}

// IsZero reports whether the key was never set.
func (k Key) IsZero() bool {
	return len(k.value) == 0
}

// SecretValue returns the raw key. It exists for handing the key
// to third party packages.
func (k Key) SecretValue() []byte {
	return k.value
}
