package app

import (
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"secure_chat/internal/cryptographic/dh"
)

var ErrKeyAbsent = errors.New("no cached identity")

type (
	// Identity is the logged-in user with the unwrapped private key.
	Identity struct {
		UserID    string
		Username  string
		PublicKey string
		Private   *ecdh.PrivateKey
	}

	// KeyCache persists one identity as a 0600 JSON file under the client home.
	KeyCache struct {
		path string
	}

	cachedIdentity struct {
		UserID     string `json:"userId"`
		Username   string `json:"username"`
		PublicKey  string `json:"publicKey"`
		PrivateKey string `json:"privateKey"`
	}
)

func NewKeyCache(home, username string) *KeyCache {
	return &KeyCache{
		path: filepath.Join(home, "keys", filepath.Base(username)+".json"),
	}
}

func (k *KeyCache) Save(id *Identity) error {
	der, err := dh.MarshalPrivateKey(id.Private)
	if err != nil {
		return err
	}
	data, err := json.Marshal(&cachedIdentity{
		UserID:     id.UserID,
		Username:   id.Username,
		PublicKey:  id.PublicKey,
		PrivateKey: base64.StdEncoding.EncodeToString(der),
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return err
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, k.path)
}

func (k *KeyCache) Load() (*Identity, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyAbsent
	}
	if err != nil {
		return nil, err
	}

	var c cachedIdentity
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode key cache: %w", err)
	}
	der, err := base64.StdEncoding.DecodeString(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode key cache: %w", err)
	}
	priv, err := dh.ParsePrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("decode key cache: %w", err)
	}
	return &Identity{
		UserID:    c.UserID,
		Username:  c.Username,
		PublicKey: c.PublicKey,
		Private:   priv,
	}, nil
}

func (k *KeyCache) Clear() error {
	err := os.Remove(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
