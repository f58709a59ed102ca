package handshake

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"secure_chat/internal/cryptographic/dh"
	"secure_chat/internal/cryptographic/encryption"
)

var ErrSessionClosed = errors.New("session closed")

type (
	// Session holds the shared secret for exactly one peer. It is never
	// persisted; callers replace it (and Destroy the old one) on peer change.
	Session struct {
		PeerID       string
		PeerUsername string

		mu  sync.RWMutex
		key []byte
	}
)

// DeriveSharedSecret combines the local private key with the peer's public
// key. DeriveSharedSecret(a, B) == DeriveSharedSecret(b, A).
func DeriveSharedSecret(local *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	secret, err := dh.SharedSecret(local, peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	if len(secret) != encryption.KeySize {
		return nil, fmt.Errorf("ecdh: unexpected secret length %d", len(secret))
	}
	return secret, nil
}

// NewSession runs the agreement against the peer's base64 SPKI public key as
// returned by the relay. The key is trusted as served.
func NewSession(local *ecdh.PrivateKey, peerID, peerUsername, peerPublicKey string) (*Session, error) {
	pub, err := dh.DecodePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	key, err := DeriveSharedSecret(local, pub)
	if err != nil {
		return nil, err
	}
	return &Session{
		PeerID:       peerID,
		PeerUsername: peerUsername,
		key:          key,
	}, nil
}

// Encrypt returns base64 ciphertext and iv ready for send_message.
func (s *Session) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", "", ErrSessionClosed
	}
	ct, nonce, err := encryption.Encrypt(s.key, []byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt fails with encryption.ErrDecryptionFailed on any malformed input.
func (s *Session) Decrypt(ciphertext, iv string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", ErrSessionClosed
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", encryption.ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", encryption.ErrDecryptionFailed
	}
	plain, err := encryption.Decrypt(s.key, ct, nonce)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", encryption.ErrDecryptionFailed
	}
	return string(plain), nil
}

// Destroy zeroes the shared secret.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}
