package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/errorz"
	"github.com/willemschots/stockdigest/internal/krypto"
)

var (
	ErrDuplicateUser     = errors.New("duplicate user")
	ErrDuplicateUsername = fmt.Errorf("%w: username is taken", ErrDuplicateUser)
	ErrDuplicateEmail    = fmt.Errorf("%w: email is taken", ErrDuplicateUser)

	// ErrInvalidCredentials is returned for every failed login, whatever the reason.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service registers users, checks their credentials and lists who receives the digest.
type Service struct {
	store  Store
	logger *slog.Logger

	// comparisonHash is matched against when no user was found,
	// so a login costs the same whether or not the user exists.
	comparisonHash krypto.Argon2Hash

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(s Store, logger *slog.Logger) (*Service, error) {
	tok, err := krypto.GenerateToken()
	if err != nil {
		return nil, err
	}

	hash, err := krypto.HashArgon2(tok[:])
	if err != nil {
		return nil, err
	}

	return &Service{
		store:          s,
		logger:         logger,
		comparisonHash: hash,
		NowFunc:        time.Now,
	}, nil
}

// Register creates an active user that is not subscribed to the newsletter.
// It returns ErrDuplicateUsername or ErrDuplicateEmail when either is taken,
// in which case nothing is written.
func (s *Service) Register(ctx context.Context, r Registration) (uuid.UUID, error) {
	salt, err := krypto.GenerateSalt()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// hash before the transaction starts, argon2 is slow on purpose.
	hash, err := r.Password.Hash(salt)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, err
	}

	now := s.NowFunc()
	user := User{
		ID:                    id,
		Username:              r.Username,
		Email:                 r.Email,
		PasswordHash:          hash,
		CreatedAt:             now,
		UpdatedAt:             now,
		IsActive:              true,
		SignedUpForNewsletter: false,
		FavStocks:             Favorites{},
		ProfileData:           json.RawMessage(`{}`),
	}

	err = s.inTx(ctx, func(tx Tx) error {
		users, txErr := tx.FindUsers(&UserFilter{Usernames: []Username{user.Username}})
		if txErr != nil {
			return txErr
		}
		if len(users) > 0 {
			return ErrDuplicateUsername
		}

		users, txErr = tx.FindUsers(&UserFilter{Emails: []email.Address{user.Email}})
		if txErr != nil {
			return txErr
		}
		if len(users) > 0 {
			return ErrDuplicateEmail
		}

		return tx.CreateUser(&user)
	})

	if errors.Is(err, errorz.ErrConstraintViolated) {
		// a concurrent registration won the race.
		return uuid.Nil, fmt.Errorf("%w: %w", ErrDuplicateUser, err)
	}

	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("registered user", "userID", user.ID)

	return user.ID, nil
}

// Login checks the password of the user identified by a username or an email address.
// Unknown users, inactive users and wrong passwords all result in ErrInvalidCredentials,
// after exactly one password comparison.
func (s *Service) Login(ctx context.Context, identifier string, pwd Password) (Session, error) {
	filter, ok := identifierFilter(identifier)
	if !ok {
		_ = pwd.Match(s.comparisonHash)
		s.logger.Debug("login failed", "reason", "malformed identifier")
		return Session{}, ErrInvalidCredentials
	}

	users, err := s.store.FindUsers(ctx, filter)
	if err != nil {
		return Session{}, err
	}

	if len(users) != 1 {
		_ = pwd.Match(s.comparisonHash)
		s.logger.Debug("login failed", "reason", "unknown user")
		return Session{}, ErrInvalidCredentials
	}

	user := users[0]
	matched := pwd.Match(user.PasswordHash)

	switch {
	case !matched:
		s.logger.Debug("login failed", "reason", "wrong password", "userID", user.ID)
		return Session{}, ErrInvalidCredentials
	case !user.IsActive:
		s.logger.Debug("login failed", "reason", "inactive user", "userID", user.ID)
		return Session{}, ErrInvalidCredentials
	}

	now := s.NowFunc()
	err = s.inTx(ctx, func(tx Tx) error {
		return tx.UpdateLastLogin(user.ID, now)
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		IssuedAt: now,
	}, nil
}

func identifierFilter(identifier string) (*UserFilter, bool) {
	if strings.Contains(identifier, "@") {
		addr, err := email.ParseAddress(identifier)
		if err != nil {
			return nil, false
		}
		return &UserFilter{Emails: []email.Address{addr}}, true
	}

	name, err := ParseUsername(identifier)
	if err != nil {
		return nil, false
	}
	return &UserFilter{Usernames: []Username{name}}, true
}

// ListDispatchEligible returns the active users that signed up for the newsletter, ordered by ID.
func (s *Service) ListDispatchEligible(ctx context.Context) ([]Subscriber, error) {
	users, err := s.store.FindUsers(ctx, &UserFilter{
		IsActive:              ptr(true),
		SignedUpForNewsletter: ptr(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]Subscriber, 0, len(users))
	for _, u := range users {
		out = append(out, Subscriber{
			UserID:   u.ID,
			Username: u.Username,
			Email:    u.Email,
			Symbols:  u.FavStocks,
		})
	}

	return out, nil
}

// Lookup finds a user by username or email address.
// It returns errorz.ErrNotFound if there is no such user.
func (s *Service) Lookup(ctx context.Context, identifier string) (User, error) {
	filter, ok := identifierFilter(identifier)
	if !ok {
		return User{}, errorz.ErrNotFound
	}

	users, err := s.store.FindUsers(ctx, filter)
	if err != nil {
		return User{}, err
	}

	if len(users) != 1 {
		return User{}, errorz.ErrNotFound
	}

	return users[0], nil
}

// SetNewsletter subscribes or unsubscribes a user.
func (s *Service) SetNewsletter(ctx context.Context, id uuid.UUID, subscribed bool) error {
	return s.updateUser(ctx, id, func(u *User) error {
		u.SignedUpForNewsletter = subscribed
		return nil
	})
}

// SetFavorites replaces the favorite symbols of a user.
func (s *Service) SetFavorites(ctx context.Context, id uuid.UUID, favs Favorites) error {
	if len(favs) > MaxFavorites {
		return ErrTooManyFavorites
	}

	return s.updateUser(ctx, id, func(u *User) error {
		u.FavStocks = favs
		return nil
	})
}

// SetActive activates or deactivates a user. Inactive users can't log in
// and don't receive the newsletter.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.updateUser(ctx, id, func(u *User) error {
		u.IsActive = active
		return nil
	})
}

// SetProfileData replaces the profile data of a user. It needs to be a JSON object.
func (s *Service) SetProfileData(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return errorz.Keyed{Key: "profileData", Err: errors.New("not a JSON object")}
	}

	return s.updateUser(ctx, id, func(u *User) error {
		u.ProfileData = data
		return nil
	})
}

func (s *Service) updateUser(ctx context.Context, id uuid.UUID, f func(u *User) error) error {
	return s.inTx(ctx, func(tx Tx) error {
		users, err := tx.FindUsers(&UserFilter{IDs: []uuid.UUID{id}})
		if err != nil {
			return err
		}

		if len(users) != 1 {
			return errorz.ErrNotFound
		}

		user := users[0]
		err = f(&user)
		if err != nil {
			return err
		}

		user.UpdatedAt = s.NowFunc()
		return tx.UpdateUser(&user)
	})
}

func (s *Service) inTx(ctx context.Context, f func(tx Tx) error) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		rBackErr := tx.Rollback()
		if rBackErr != nil {
			err = errors.Join(err, rBackErr)
		}
		return err
	}

	return tx.Commit()
}

func ptr[T any](v T) *T {
	return &v
}
