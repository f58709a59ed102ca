package dh

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrUnsupportedKey = errors.New("key is not a P-256 key")

func curve() ecdh.Curve {
	return ecdh.P256()
}

// NewKeyPair generates a P-256 key pair for ECDH.
func NewKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return priv, nil
}

// SharedSecret performs ECDH: priv * pub. The output is the raw x-coordinate.
func SharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	if priv.Curve() != curve() || pub.Curve() != curve() {
		return nil, ErrUnsupportedKey
	}
	return priv.ECDH(pub)
}

// MarshalPrivateKey exports priv as PKCS#8 DER.
func MarshalPrivateKey(priv *ecdh.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}

func ParsePrivateKey(der []byte) (*ecdh.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		priv, err := k.ECDH()
		if err != nil {
			return nil, err
		}
		if priv.Curve() != curve() {
			return nil, ErrUnsupportedKey
		}
		return priv, nil
	case *ecdh.PrivateKey:
		if k.Curve() != curve() {
			return nil, ErrUnsupportedKey
		}
		return k, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// MarshalPublicKey exports pub as SPKI (PKIX) DER.
func MarshalPublicKey(pub *ecdh.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

func ParsePublicKey(der []byte) (*ecdh.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case *ecdsa.PublicKey:
		pub, err := k.ECDH()
		if err != nil {
			return nil, err
		}
		if pub.Curve() != curve() {
			return nil, ErrUnsupportedKey
		}
		return pub, nil
	case *ecdh.PublicKey:
		if k.Curve() != curve() {
			return nil, ErrUnsupportedKey
		}
		return k, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

func EncodePublicKey(pub *ecdh.PublicKey) (string, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func DecodePublicKey(s string) (*ecdh.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return ParsePublicKey(der)
}
