package db

import (
	"errors"
	"strings"

	"github.com/willemschots/stockdigest/internal/krypto"
)

// Query builds a SQL statement with bind parameters.
// Unsafe writes literal SQL, the Param methods add bind parameters in the
// placeholder style of the Dialect. Get returns the statement.
//
// The zero value builds SQLite statements.
type Query struct {
	Dialect       Dialect
	Encryptor     *krypto.Encryptor
	BlindIndexKey krypto.Key
	b             strings.Builder
	params        []any
	err           error
}

// Unsafe writes a non-parameterized part of a query.
func (q *Query) Unsafe(s string) {
	q.b.WriteString(s)
}

// Param writes a single bind parameter.
func (q *Query) Param(v any) {
	q.params = append(q.params, v)
	q.b.WriteString(q.Dialect.Placeholder(len(q.params)))
}

// Params writes bind parameters separated by commas.
func (q *Query) Params(v ...any) {
	for i, p := range v {
		if i > 0 {
			q.b.WriteString(", ")
		}
		q.Param(p)
	}
}

// ParamEncrypted encrypts d and writes the result as a bind parameter.
func (q *Query) ParamEncrypted(d []byte) {
	if q.Encryptor == nil {
		q.err = errors.Join(q.err, errors.New("no encryptor set"))
		return
	}

	enc, err := q.Encryptor.Encrypt(d)
	if err != nil {
		q.err = errors.Join(q.err, err)
		return
	}

	q.Param(enc)
}

// ParamBlindIndex writes a keyed hash of d as a bind parameter.
// Blind indexes need to be rebuilt when the key or the argon2 parameters change.
func (q *Query) ParamBlindIndex(d []byte) {
	hash, err := krypto.HashArgon2WithKey(d, q.BlindIndexKey)
	if err != nil {
		q.err = errors.Join(q.err, err)
		return
	}

	// the key is the salt, it must not end up in the database.
	q.Param(hash.WithoutSalt().String())
}

// Get returns the statement, its parameters and any error that occurred while building it.
func (q *Query) Get() (string, []any, error) {
	return q.b.String(), q.params, q.err
}

// DecryptionTarget returns a scan target that decrypts the scanned value.
func (q *Query) DecryptionTarget() *Decryptable {
	return &Decryptable{
		encryptor: q.Encryptor,
	}
}

// Decryptable is a sql.Scanner for values written with ParamEncrypted.
type Decryptable struct {
	encryptor *krypto.Encryptor
	Data      []byte
}

func (d *Decryptable) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return errors.New("encrypted value is not a byte slice")
	}

	data, err := d.encryptor.Decrypt(b)
	if err != nil {
		return err
	}

	d.Data = data
	return nil
}
