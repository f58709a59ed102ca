package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Iterations = 100_000
	SaltSize   = 16
	KeySize    = 32
)

var (
	infoEncryption = []byte("securechat/encryption-key")
	infoAuth       = []byte("securechat/auth-key")
)

var ErrBadSalt = errors.New("kdf: salt must be 16 bytes")

type (
	// Keys are the two independent outputs of one password stretch.
	// EncryptionKey only wraps the private key and never leaves the client;
	// AuthKey is what the server sees (and hashes again).
	Keys struct {
		AuthKey       []byte
		EncryptionKey []byte
	}
)

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("rand.Read salt: %w", err)
	}
	return salt, nil
}

// Derive stretches password once with PBKDF2-SHA256 and splits the result
// with HKDF into domain-separated keys.
func Derive(password string, salt []byte) (*Keys, error) {
	if len(salt) != SaltSize {
		return nil, ErrBadSalt
	}

	master := pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
	defer zero(master)

	keys := &Keys{
		AuthKey:       make([]byte, KeySize),
		EncryptionKey: make([]byte, KeySize),
	}
	if _, err := HKDF(master, salt, infoEncryption, keys.EncryptionKey); err != nil {
		return nil, err
	}
	if _, err := HKDF(master, salt, infoAuth, keys.AuthKey); err != nil {
		return nil, err
	}
	return keys, nil
}

// HKDF fills buffer with HKDF-SHA256 output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
