package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

var (
	// ErrUnknownKey indicates that the key used to encrypt the data is unknown.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidData indicates that the data is invalid.
	ErrInvalidData = errors.New("invalid data")
)

const indexBytes = 4

// Encryptor seals and opens data with AES-GCM.
//
// Keys form an append only list, the last key is used for new data. Every
// message carries the index of its key so rotated keys can still open older
// data. The index is not secret.
type Encryptor struct {
	keys []Key
}

// NewEncryptor returns an encryptor for keys, oldest first.
func NewEncryptor(keys []Key) (*Encryptor, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key is required")
	}

	return &Encryptor{
		keys: keys,
	}, nil
}

// Encrypt seals data with the latest key.
// The output is the key index, followed by the nonce and the ciphertext.
func (s *Encryptor) Encrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	index := uint32(len(s.keys) - 1)
	gcm, err := s.aead(index)
	if err != nil {
		return nil, err
	}

	nonce, err := genRandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	prefix := binary.BigEndian.AppendUint32(nil, index)

	out := make([]byte, 0, indexBytes+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, prefix...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, prefix), nil
}

// Decrypt opens a message created by Encrypt, using the key the message was sealed with.
func (s *Encryptor) Decrypt(message []byte) ([]byte, error) {
	if len(message) < indexBytes {
		return nil, ErrInvalidData
	}

	prefix := message[:indexBytes]
	index := binary.BigEndian.Uint32(prefix)
	if int(index) >= len(s.keys) {
		return nil, ErrUnknownKey
	}

	gcm, err := s.aead(index)
	if err != nil {
		return nil, err
	}

	body := message[indexBytes:]
	if len(body) <= gcm.NonceSize() {
		return nil, ErrInvalidData
	}

	nonce, ciphertext := body[:gcm.NonceSize()], body[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, prefix)
}

func (s *Encryptor) aead(index uint32) (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.keys[index].value)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
