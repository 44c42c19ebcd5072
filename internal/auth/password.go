package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/willemschots/stockdigest/internal/krypto"
)

const (
	minPasswordBytes = 8
	// Generous, so passphrases fit, but MBs of data are refused.
	maxPasswordBytes = 512
)

var ErrInvalidPassword = errors.New("invalid password")

// Password is a plaintext password.
//
// It is never persisted, logged or printed. The only operations on a
// Password are hashing it with a salt and matching it against a hash.
type Password struct {
	plain []byte
}

// ParsePassword creates a Password, it errors if the input is too short or too long.
func ParsePassword(pwd string) (Password, error) {
	if len(pwd) < minPasswordBytes || len(pwd) > maxPasswordBytes {
		return Password{}, ErrInvalidPassword
	}

	return Password{
		plain: []byte(pwd),
	}, nil
}

// Hash derives an argon2id hash of the password using salt.
func (p Password) Hash(salt []byte) (krypto.Argon2Hash, error) {
	return krypto.HashArgon2WithSalt(p.plain, salt)
}

// Match reports whether the password matches h, in constant time.
func (p Password) Match(h krypto.Argon2Hash) bool {
	return h.MatchBytes(p.plain)
}

func (p Password) Format(f fmt.State, verb rune) {
	f.Write([]byte(krypto.SecretMarker))
}

func (p Password) MarshalText() ([]byte, error) {
	return []byte(krypto.SecretMarker), nil
}

func (p Password) LogValue() slog.Value {
	return slog.StringValue(krypto.SecretMarker)
}
