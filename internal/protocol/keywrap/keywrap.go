package keywrap

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"secure_chat/internal/cryptographic/dh"
	"secure_chat/internal/cryptographic/encryption"
)

// ErrWrongPassphrase is returned when the wrapping key does not open the blob.
// A wrong password yields a wrong encryption key, so this is the password check.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key blob")

// Wrap exports priv as PKCS#8 and seals it under encryptionKey.
func Wrap(priv *ecdh.PrivateKey, encryptionKey []byte) (ciphertext, iv []byte, err error) {
	der, err := dh.MarshalPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("export private key: %w", err)
	}
	defer zero(der)

	ciphertext, iv, err = encryption.Encrypt(encryptionKey, der)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap private key: %w", err)
	}
	return ciphertext, iv, nil
}

func Unwrap(ciphertext, iv, encryptionKey []byte) (*ecdh.PrivateKey, error) {
	der, err := encryption.Decrypt(encryptionKey, ciphertext, iv)
	if errors.Is(err, encryption.ErrDecryptionFailed) {
		return nil, ErrWrongPassphrase
	}
	if err != nil {
		return nil, err
	}
	defer zero(der)

	priv, err := dh.ParsePrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("import private key: %w", err)
	}
	return priv, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
