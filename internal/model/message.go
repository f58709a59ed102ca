package model

import (
	"time"
)

type (
	// Message is an append-only ciphertext record. The relay never sees plaintext.
	Message struct {
		ID               string    `json:"_id"`
		Sender           string    `json:"sender"`
		Recipient        string    `json:"recipient"`
		EncryptedContent string    `json:"encryptedContent"`
		IV               string    `json:"iv"`
		Timestamp        time.Time `json:"timestamp"`
	}
)
