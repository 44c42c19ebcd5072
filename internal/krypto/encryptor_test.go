package krypto_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/willemschots/stockdigest/internal/krypto"
)

var testKeys = []krypto.Key{
	must(krypto.ParseKey("2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d")),
	must(krypto.ParseKey("90303dfed7994260ea4817a5ca8a392915cd401115b2f97495dadfcbcd14adbf")),
	must(krypto.ParseKey("cf55b868d8c7a640265365910093113edce9b6c9226f3bd7c87987d23062d421")),
}

func Test_NewEncryptor(t *testing.T) {
	t.Run("fail, no keys", func(t *testing.T) {
		_, err := krypto.NewEncryptor(nil)
		if err == nil {
			t.Fatalf("wanted error, got <nil>")
		}
	})
}

func Test_Encryptor_KeyRotation(t *testing.T) {
	// sealedWith and openedWith are the number of keys, oldest first, the
	// encryptors were configured with.
	tests := map[string]struct {
		sealedWith int
		openedWith int
		wantErr    error
	}{
		"ok, single key":                  {sealedWith: 1, openedWith: 1},
		"ok, newest of several keys":      {sealedWith: 3, openedWith: 3},
		"ok, sealed before a rotation":    {sealedWith: 1, openedWith: 3},
		"ok, sealed between rotations":    {sealedWith: 2, openedWith: 3},
		"fail, sealed with a removed key": {sealedWith: 3, openedWith: 2, wantErr: krypto.ErrUnknownKey},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sealer := must(krypto.NewEncryptor(testKeys[:tc.sealedWith]))
			opener := must(krypto.NewEncryptor(testKeys[:tc.openedWith]))

			raw := []byte("alice@example.com")
			sealed, err := sealer.Encrypt(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if bytes.Contains(sealed, raw) {
				t.Fatalf("sealed message contains the plaintext")
			}

			got, err := opener.Decrypt(sealed)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("wanted error %v, got %v (via errors.Is)", tc.wantErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !bytes.Equal(got, raw) {
				t.Fatalf("want %q, got %q", raw, got)
			}
		})
	}
}

func Test_Encryptor_Encrypt(t *testing.T) {
	enc := must(krypto.NewEncryptor(testKeys[:1]))

	t.Run("ok, equal input gives different output", func(t *testing.T) {
		a := must(enc.Encrypt([]byte("x")))
		b := must(enc.Encrypt([]byte("x")))

		if bytes.Equal(a, b) {
			t.Errorf("expected a fresh nonce for every message")
		}
	})

	for name, raw := range map[string][]byte{"nil": nil, "empty": {}} {
		t.Run("fail, "+name, func(t *testing.T) {
			_, err := enc.Encrypt(raw)
			if !errors.Is(err, krypto.ErrInvalidData) {
				t.Fatalf("wanted error %v, got %v (via errors.Is)", krypto.ErrInvalidData, err)
			}
		})
	}
}

func Test_Encryptor_Decrypt(t *testing.T) {
	enc := must(krypto.NewEncryptor(testKeys[:2]))
	sealed := must(enc.Encrypt([]byte("bob@example.com")))

	tampered := func(i int) []byte {
		msg := bytes.Clone(sealed)
		msg[i] ^= 0xff
		return msg
	}

	tests := map[string]struct {
		msg     []byte
		wantErr error
	}{
		"nil":                  {msg: nil, wantErr: krypto.ErrInvalidData},
		"shorter than index":   {msg: []byte{0, 0, 0}, wantErr: krypto.ErrInvalidData},
		"only index":           {msg: []byte{0, 0, 0, 1}, wantErr: krypto.ErrInvalidData},
		"only index and nonce": {msg: append([]byte{0, 0, 0, 1}, make([]byte, 12)...), wantErr: krypto.ErrInvalidData},
		"index out of range":   {msg: append([]byte{0, 0, 0, 9}, sealed[4:]...), wantErr: krypto.ErrUnknownKey},
		// the index is authenticated, so pointing it at another key fails to open.
		"index swapped":       {msg: append([]byte{0, 0, 0, 0}, sealed[4:]...)},
		"nonce tampered":      {msg: tampered(5)},
		"ciphertext tampered": {msg: tampered(len(sealed) - 1)},
	}

	for name, tc := range tests {
		t.Run("fail, "+name, func(t *testing.T) {
			_, err := enc.Decrypt(tc.msg)
			if err == nil {
				t.Fatalf("wanted error, got <nil>")
			}

			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("wanted error %v, got %v (via errors.Is)", tc.wantErr, err)
			}
		})
	}
}

func must[T any](t T, err error) T {
	if err != nil {
		panic(err)
	}
	return t
}
