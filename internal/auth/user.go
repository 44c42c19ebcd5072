package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/errorz"
	"github.com/willemschots/stockdigest/internal/krypto"
)

// MaxFavorites is the maximum number of symbols a user can follow.
const MaxFavorites = 10

var (
	ErrInvalidUsername  = errors.New("invalid username")
	ErrInvalidSymbol    = errors.New("invalid stock symbol")
	ErrTooManyFavorites = fmt.Errorf("more than %d favorite symbols", MaxFavorites)

	usernameRx = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
	symbolRx   = regexp.MustCompile(`^[A-Z][A-Z0-9.-]{0,9}$`)
)

// User is a registered user.
type User struct {
	ID           uuid.UUID
	Username     Username
	Email        email.Address
	PasswordHash krypto.Argon2Hash
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// LastLogin is nil until the first successful login.
	LastLogin             *time.Time
	IsActive              bool
	SignedUpForNewsletter bool
	FavStocks             Favorites
	// ProfileData is stored and returned as is.
	ProfileData json.RawMessage
}

// Username is a lowercased login name.
type Username string

// ParseUsername trims and lowercases raw and checks that it is 3 to 32
// characters of letters, digits, '_', '.' or '-'.
func ParseUsername(raw string) (Username, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !usernameRx.MatchString(name) {
		return "", ErrInvalidUsername
	}
	return Username(name), nil
}

func (u *Username) UnmarshalText(text []byte) error {
	name, err := ParseUsername(string(text))
	if err != nil {
		return err
	}
	*u = name
	return nil
}

// Symbol is an uppercase stock ticker such as "AAPL" or "BRK.B".
type Symbol string

// ParseSymbol trims and uppercases raw.
func ParseSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRx.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return Symbol(s), nil
}

// Favorites is a sorted set of symbols.
type Favorites []Symbol

// NewFavorites validates, de-duplicates and sorts raw symbols. Empty entries are ignored.
// All invalid symbols are reported together in an errorz.InvalidInput.
func NewFavorites(raw []string) (Favorites, error) {
	var invalid errorz.InvalidInput

	seen := make(map[Symbol]struct{}, len(raw))
	out := make(Favorites, 0, len(raw))
	for i, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}

		sym, err := ParseSymbol(r)
		if err != nil {
			invalid = append(invalid, errorz.Keyed{Key: fmt.Sprintf("symbols[%d]", i), Err: err})
			continue
		}

		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}

	if len(invalid) > 0 {
		return nil, invalid
	}

	if len(out) > MaxFavorites {
		return nil, ErrTooManyFavorites
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ParseFavorites parses a comma separated list such as "aapl, msft,TSLA".
func ParseFavorites(raw string) (Favorites, error) {
	return NewFavorites(strings.Split(raw, ","))
}

// Strings returns the symbols as plain strings.
func (f Favorites) Strings() []string {
	out := make([]string, len(f))
	for i, s := range f {
		out[i] = string(s)
	}
	return out
}

// Registration holds what is needed to create a user.
type Registration struct {
	Username Username
	Email    email.Address
	Password Password
}

// Subscriber is an active user that opted into the newsletter.
type Subscriber struct {
	UserID   uuid.UUID
	Username Username
	Email    email.Address
	Symbols  Favorites
}

// Session is the result of a successful login.
type Session struct {
	UserID   uuid.UUID
	Username Username
	Email    email.Address
	IssuedAt time.Time
}
