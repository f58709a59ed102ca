package encryption_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"secure_chat/internal/cryptographic/encryption"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, encryption.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := newKey(t)
	for _, msg := range []string{"", "hello", "xin chào 👋", string(make([]byte, 64*1024))} {
		ct, iv, err := encryption.Encrypt(key, []byte(msg))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(iv) != encryption.NonceSize {
			t.Fatalf("want %d byte iv, got %d", encryption.NonceSize, len(iv))
		}
		got, err := encryption.Decrypt(key, ct, iv)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if string(got) != msg {
			t.Fatalf("round trip mismatch for %q", msg)
		}
	}
}

func TestDecrypt_FailsClosed(t *testing.T) {
	key := newKey(t)
	ct, iv, err := encryption.Encrypt(key, []byte("attack at dawn"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := bytes.Clone(ct)
	tampered[0] ^= 0x01

	cases := map[string]func() ([]byte, error){
		"wrong key":  func() ([]byte, error) { return encryption.Decrypt(newKey(t), ct, iv) },
		"tampered":   func() ([]byte, error) { return encryption.Decrypt(key, tampered, iv) },
		"short iv":   func() ([]byte, error) { return encryption.Decrypt(key, ct, iv[:4]) },
		"truncated":  func() ([]byte, error) { return encryption.Decrypt(key, ct[:len(ct)-1], iv) },
		"empty body": func() ([]byte, error) { return encryption.Decrypt(key, nil, iv) },
	}
	for name, fn := range cases {
		plain, err := fn()
		if !errors.Is(err, encryption.ErrDecryptionFailed) {
			t.Fatalf("%s: want ErrDecryptionFailed, got %v", name, err)
		}
		if plain != nil {
			t.Fatalf("%s: plaintext returned on failure", name)
		}
	}
}

func TestEncrypt_NonceUnique(t *testing.T) {
	key := newKey(t)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		_, iv, err := encryption.Encrypt(key, []byte("same message"))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if _, dup := seen[string(iv)]; dup {
			t.Fatalf("iv repeated after %d calls", i)
		}
		seen[string(iv)] = struct{}{}
	}
}

func TestEncrypt_RejectsBadKeySize(t *testing.T) {
	if _, _, err := encryption.Encrypt(make([]byte, 16), []byte("x")); err == nil {
		t.Fatal("expected error for 16-byte key")
	}
}
