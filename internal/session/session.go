// Package session issues and verifies signed session tokens for logged in users.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/krypto"
)

const issuer = "stockdigest"

var ErrInvalidToken = errors.New("invalid session token")

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Issuer signs sessions as HS256 JWTs.
type Issuer struct {
	key krypto.Key
	ttl time.Duration

	NowFunc func() time.Time
}

func NewIssuer(key krypto.Key, ttl time.Duration) *Issuer {
	return &Issuer{
		key:     key,
		ttl:     ttl,
		NowFunc: time.Now,
	}
}

// Issue returns a signed token for s, it expires ttl after s.IssuedAt.
func (i *Issuer) Issue(s auth.Session) (string, error) {
	id, err := krypto.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Issuer:    issuer,
			Subject:   s.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.IssuedAt.Add(i.ttl)),
		},
		Username: string(s.Username),
		Email:    string(s.Email),
	})

	signed, err := token.SignedString(i.key.SecretValue())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Parse verifies raw and returns the session it was issued for.
// Any problem with the token results in ErrInvalidToken.
func (i *Issuer) Parse(raw string) (auth.Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return i.key.SecretValue(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.NowFunc),
	)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	_, err = krypto.ParseToken(c.ID)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: invalid subject: %w", ErrInvalidToken, err)
	}

	username, err := auth.ParseUsername(c.Username)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	addr, err := email.ParseAddress(c.Email)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	s := auth.Session{
		UserID:   userID,
		Username: username,
		Email:    addr,
	}

	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}

	return s, nil
}
