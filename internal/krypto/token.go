package krypto

import (
	"encoding/hex"
	"errors"
	"log/slog"
)

const tokenLen = 32

var ErrInvalidToken = errors.New("invalid token")

// Token is 32 random bytes. Tokens are confidential, they are
// never logged or persisted in plaintext.
type Token [tokenLen]byte

// GenerateToken creates a new random token.
func GenerateToken() (Token, error) {
	b, err := genRandomBytes(tokenLen)
	if err != nil {
		return Token{}, err
	}
	return Token(b), nil
}

// ParseToken parses a hex encoded token.
func ParseToken(raw string) (Token, error) {
	if len(raw) != tokenLen*2 {
		return Token{}, ErrInvalidToken
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return Token{}, ErrInvalidToken
	}

	return Token(b), nil
}

// String returns the hex encoding of the token.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// LogValue implements the slog.LogValuer interface.
func (t Token) LogValue() slog.Value {
	return slog.StringValue(SecretMarker)
}
