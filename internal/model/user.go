package model

import (
	"strings"
	"time"
)

type (
	// User is the server-side identity record. Salt, PublicKey, WrappedPrivateKey
	// and WrapIV are base64 strings produced by the client and opaque here.
	User struct {
		ID                string    `json:"_id"`
		Username          string    `json:"username"`
		Salt              string    `json:"salt"`
		AuthKeyHash       string    `json:"-"`
		PublicKey         string    `json:"publicKey"`
		WrappedPrivateKey string    `json:"encryptedPrivateKey"`
		WrapIV            string    `json:"iv"`
		CreatedAt         time.Time `json:"createdAt"`
	}

	Notification struct {
		ID        string    `json:"_id"`
		Content   string    `json:"content"`
		Type      string    `json:"type"`
		CreatedAt time.Time `json:"createdAt"`
	}
)

const (
	NotificationInfo         = "info"
	NotificationFriendAccept = "friend_accept"
)

// NormalizeUsername is applied to every username before it is stored or
// looked up. Usernames are otherwise case-sensitive.
func NormalizeUsername(name string) string {
	return strings.TrimSpace(name)
}
