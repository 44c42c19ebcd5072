package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/db"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/errorz"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

const userColumns = `id, username, email_encrypted, password_hash, salt, created_at, updated_at, last_login, is_active, profile_data, signed_up_for_newsletter, fav_stocks`

func insertUser(q *db.Query, ef execFunc, u *auth.User) error {
	if u.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	favs, profile, err := encodeJSONColumns(u)
	if err != nil {
		return err
	}

	q.Unsafe(`INSERT INTO users (id, username, email_encrypted, email_blind_index, password_hash, salt, created_at, updated_at, last_login, is_active, profile_data, signed_up_for_newsletter, fav_stocks) VALUES (`)
	q.Params(u.ID.String(), string(u.Username))
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(u.Email))
	q.Unsafe(`, `)
	q.ParamBlindIndex([]byte(u.Email))
	q.Unsafe(`, `)
	// the salt has its own column.
	q.Params(u.PasswordHash.WithoutSalt().String(), u.PasswordHash.Salt, u.CreatedAt, u.UpdatedAt, u.LastLogin, u.IsActive, profile, u.SignedUpForNewsletter, favs)
	q.Unsafe(`)`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	_, err = ef(s, params...)
	return errorz.MapDBErr(err)
}

func updateUser(q *db.Query, ef execFunc, u *auth.User) error {
	favs, profile, err := encodeJSONColumns(u)
	if err != nil {
		return err
	}

	q.Unsafe(`UPDATE users SET username = `)
	q.Param(string(u.Username))

	q.Unsafe(`, email_encrypted = `)
	q.ParamEncrypted([]byte(u.Email))

	q.Unsafe(`, email_blind_index = `)
	q.ParamBlindIndex([]byte(u.Email))

	q.Unsafe(`, password_hash = `)
	q.Param(u.PasswordHash.WithoutSalt().String())

	q.Unsafe(`, salt = `)
	q.Param(u.PasswordHash.Salt)

	q.Unsafe(`, updated_at = `)
	q.Param(u.UpdatedAt)

	q.Unsafe(`, last_login = `)
	q.Param(u.LastLogin)

	q.Unsafe(`, is_active = `)
	q.Param(u.IsActive)

	q.Unsafe(`, profile_data = `)
	q.Param(profile)

	q.Unsafe(`, signed_up_for_newsletter = `)
	q.Param(u.SignedUpForNewsletter)

	q.Unsafe(`, fav_stocks = `)
	q.Param(favs)

	q.Unsafe(` WHERE id = `)
	q.Param(u.ID.String())

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	return expectOneRow(ef(s, params...))
}

// expectOneRow maps an update that matched no rows to errorz.ErrNotFound.
func expectOneRow(result sql.Result, err error) error {
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("user not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func updateLastLogin(q *db.Query, ef execFunc, id uuid.UUID, at time.Time) error {
	q.Unsafe(`UPDATE users SET last_login = `)
	q.Param(at)
	q.Unsafe(`, updated_at = `)
	q.Param(at)
	q.Unsafe(` WHERE id = `)
	q.Param(id.String())

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	return expectOneRow(ef(s, params...))
}

func selectUsers(q *db.Query, qf queryFunc, f *auth.UserFilter) ([]auth.User, error) {
	q.Unsafe(`SELECT ` + userColumns + ` FROM users WHERE 1=1 `)

	if len(f.IDs) > 0 {
		ids := make([]any, 0, len(f.IDs))
		for _, id := range f.IDs {
			ids = append(ids, id.String())
		}

		q.Unsafe(`AND id IN (`)
		q.Params(ids...)
		q.Unsafe(`) `)
	}

	if len(f.Usernames) > 0 {
		q.Unsafe(`AND username IN (`)
		q.Params(anySlice(f.Usernames, func(u auth.Username) any { return string(u) })...)
		q.Unsafe(`) `)
	}

	if len(f.Emails) > 0 {
		q.Unsafe(`AND email_blind_index IN (`)
		for i, addr := range f.Emails {
			if i > 0 {
				q.Unsafe(`, `)
			}
			q.ParamBlindIndex([]byte(addr))
		}
		q.Unsafe(`) `)
	}

	if f.IsActive != nil {
		q.Unsafe(`AND is_active = `)
		q.Param(*f.IsActive)
		q.Unsafe(` `)
	}

	if f.SignedUpForNewsletter != nil {
		q.Unsafe(`AND signed_up_for_newsletter = `)
		q.Param(*f.SignedUpForNewsletter)
		q.Unsafe(` `)
	}

	q.Unsafe(`ORDER BY id ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]auth.User, 0)
	for rows.Next() {
		var (
			u       auth.User
			id      string
			salt    []byte
			profile string
			favs    string
		)

		emailBytes := q.DecryptionTarget()
		err := rows.Scan(&id, &u.Username, emailBytes, &u.PasswordHash, &salt, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin, &u.IsActive, &profile, &u.SignedUpForNewsletter, &favs)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		u.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", id, err)
		}

		u.PasswordHash.Salt = salt

		u.Email, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		err = json.Unmarshal([]byte(favs), &u.FavStocks)
		if err != nil {
			return nil, fmt.Errorf("invalid fav_stocks for user %s: %w", u.ID, err)
		}

		u.ProfileData = json.RawMessage(profile)

		out = append(out, u)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func encodeJSONColumns(u *auth.User) (string, string, error) {
	favs := u.FavStocks
	if favs == nil {
		favs = auth.Favorites{}
	}

	b, err := json.Marshal(favs)
	if err != nil {
		return "", "", err
	}

	profile := string(u.ProfileData)
	if profile == "" {
		profile = "{}"
	}

	return string(b), profile, nil
}

func anySlice[T any](s []T, conv func(T) any) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, conv(v))
	}
	return out
}
