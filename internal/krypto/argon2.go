package krypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltLen is the minimum (and generated) salt length in bytes.
	SaltLen = 16

	argon2Variant     = "argon2id"
	argon2MemoryKiB   = 47104
	argon2Iterations  = 1
	argon2Parallelism = 1
	argon2KeyLen      = 32
)

// ErrInvalidInput is returned when data can not be hashed or a hash can not be parsed.
var ErrInvalidInput = errors.New("invalid input")

var b64 = base64.RawStdEncoding

// Argon2Hash is an argon2id digest together with the parameters and salt
// that were used to derive it.
//
// The text form is the PHC string format:
//
//	$argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
type Argon2Hash struct {
	Variant     string
	Version     int
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	Salt        []byte
	Hash        []byte
}

// GenerateSalt returns SaltLen bytes from a cryptographically secure source.
func GenerateSalt() ([]byte, error) {
	return genRandomBytes(SaltLen)
}

// HashArgon2 hashes data with a freshly generated salt.
func HashArgon2(data []byte) (Argon2Hash, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	return HashArgon2WithSalt(data, salt)
}

// HashArgon2WithSalt derives a hash for data using the provided salt.
// Equal inputs always produce equal hashes.
func HashArgon2WithSalt(data, salt []byte) (Argon2Hash, error) {
	if len(data) == 0 {
		return Argon2Hash{}, fmt.Errorf("%w: no data to hash", ErrInvalidInput)
	}

	if len(salt) < SaltLen {
		return Argon2Hash{}, fmt.Errorf("%w: salt needs to be at least %d bytes", ErrInvalidInput, SaltLen)
	}

	h := Argon2Hash{
		Variant:     argon2Variant,
		Version:     argon2.Version,
		MemoryKiB:   argon2MemoryKiB,
		Iterations:  argon2Iterations,
		Parallelism: argon2Parallelism,
		Salt:        salt,
	}
	h.Hash = h.derive(data, argon2KeyLen)

	return h, nil
}

// HashArgon2WithKey derives a deterministic hash for data, using the key as salt.
// This is used for blind indexes, where equal inputs need to be findable.
func HashArgon2WithKey(data []byte, key Key) (Argon2Hash, error) {
	return HashArgon2WithSalt(data, key.SecretValue())
}

// MatchBytes reports whether data hashes to h, using the parameters and salt of h.
// The comparison is constant time.
func (h Argon2Hash) MatchBytes(data []byte) bool {
	if len(h.Hash) == 0 {
		return false
	}

	other := h.derive(data, uint32(len(h.Hash)))
	return subtle.ConstantTimeCompare(h.Hash, other) == 1
}

func (h Argon2Hash) derive(data []byte, keyLen uint32) []byte {
	return argon2.IDKey(data, h.Salt, h.Iterations, h.MemoryKiB, h.Parallelism, keyLen)
}

// ParseArgon2Hash parses a hash in the PHC string format.
// An empty salt segment is allowed, the salt is then expected to be stored elsewhere.
func ParseArgon2Hash(s string) (Argon2Hash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Argon2Hash{}, fmt.Errorf("%w: expected 6 segments", ErrInvalidInput)
	}

	h := Argon2Hash{
		Variant: parts[1],
	}

	if h.Variant != argon2Variant {
		return Argon2Hash{}, fmt.Errorf("%w: unsupported variant %q", ErrInvalidInput, h.Variant)
	}

	_, err := fmt.Sscanf(parts[2], "v=%d", &h.Version)
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid version: %w", ErrInvalidInput, err)
	}

	if h.Version != argon2.Version {
		return Argon2Hash{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidInput, h.Version)
	}

	_, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.MemoryKiB, &h.Iterations, &h.Parallelism)
	if err != nil {
		return Argon2Hash{}, fmt.Errorf("%w: invalid parameters: %w", ErrInvalidInput, err)
	}

	if parts[4] != "" {
		h.Salt, err = b64.DecodeString(parts[4])
		if err != nil {
			return Argon2Hash{}, fmt.Errorf("%w: invalid salt: %w", ErrInvalidInput, err)
		}
	}

	h.Hash, err = b64.DecodeString(parts[5])
	if err != nil || len(h.Hash) == 0 {
		return Argon2Hash{}, fmt.Errorf("%w: invalid hash", ErrInvalidInput)
	}

	return h, nil
}

// String returns the PHC string format of the hash.
func (h Argon2Hash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Variant, h.Version, h.MemoryKiB, h.Iterations, h.Parallelism,
		b64.EncodeToString(h.Salt), b64.EncodeToString(h.Hash),
	)
}

// WithoutSalt returns a copy of h that has no salt.
func (h Argon2Hash) WithoutSalt() Argon2Hash {
	h.Salt = nil
	return h
}

func (h Argon2Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Argon2Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseArgon2Hash(string(text))
	if err != nil {
		return err
	}

	*h = parsed
	return nil
}

// Scan implements the sql.Scanner interface.
func (h *Argon2Hash) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return h.UnmarshalText([]byte(v))
	case []byte:
		return h.UnmarshalText(v)
	default:
		return fmt.Errorf("can not scan %T into an argon2 hash", src)
	}
}

func genRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}
