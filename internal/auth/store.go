package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/stockdigest/internal/email"
)

// UserFilter is used filter users.
// Returned users must match all the provided fields.
// If a field is empty or nil, it's ignored.
type UserFilter struct {
	IDs                   []uuid.UUID
	Usernames             []Username
	Emails                []email.Address
	IsActive              *bool
	SignedUpForNewsletter *bool
}

// Store provides access to the user store.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	// FindUsers reads committed users outside of a transaction, ordered by ID.
	FindUsers(ctx context.Context, filter *UserFilter) ([]User, error)
}

// Tx is a transaction. If an error occurs on any of the Create/Update/Find methods,
// the transaction is considered to have failed and should be rolled back.
// Tx is not safe for concurrent use.
type Tx interface {
	Commit() error
	Rollback() error

	CreateUser(u *User) error
	UpdateUser(u *User) error
	// UpdateLastLogin only touches the login columns, so it can't undo
	// concurrent changes to the rest of the user.
	UpdateLastLogin(id uuid.UUID, at time.Time) error
	FindUsers(filter *UserFilter) ([]User, error)
}
