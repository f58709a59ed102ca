package model

import (
	"time"
)

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	// FriendshipBlocked is terminal and currently never produced.
	FriendshipBlocked FriendshipStatus = "blocked"
)

type (
	Friendship struct {
		ID          string           `json:"_id"`
		RequesterID string           `json:"requester"`
		RecipientID string           `json:"recipient"`
		Status      FriendshipStatus `json:"status"`
		CreatedAt   time.Time        `json:"createdAt"`
	}

	Contact struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
		Online   bool   `json:"online"`
	}

	FriendRequest struct {
		FromID   string `json:"fromId"`
		FromUser string `json:"fromUser"`
	}
)

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Other returns the side of the friendship that is not userID.
func (f *Friendship) Other(userID string) string {
	if f.RequesterID == userID {
		return f.RecipientID
	}
	return f.RequesterID
}
