package model

import (
	"encoding/json"
	"time"
)

// Event names on the real-time channel.
const (
	EventJoinUser             = "join_user"
	EventRequestPublicKey     = "request_public_key"
	EventResponsePublicKey    = "response_public_key"
	EventError                = "error"
	EventSendMessage          = "send_message"
	EventReceiveMessage       = "receive_message"
	EventUserStatusChange     = "user_status_change"
	EventSendFriendRequest    = "send_friend_request"
	EventReceiveFriendRequest = "receive_friend_request"
	EventRequestSentSuccess   = "request_sent_success"
	EventAcceptFriendRequest  = "accept_friend_request"
	EventRequestAccepted      = "request_accepted"
	EventStartHandshakeInit   = "start_handshake_init"
	EventClearNotification    = "clear_notification"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type (
	// Envelope is one frame on the WebSocket.
	Envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}

	RequestPublicKey struct {
		Username string `json:"username"`
	}

	ResponsePublicKey struct {
		UserID    string `json:"userId"`
		PublicKey string `json:"publicKey"`
		Username  string `json:"username"`
	}

	SendMessage struct {
		SenderID         string `json:"senderId"`
		RecipientID      string `json:"recipientId"`
		EncryptedContent string `json:"encryptedContent"`
		IV               string `json:"iv"`
	}

	ReceiveMessage struct {
		SenderID         string    `json:"senderId"`
		EncryptedContent string    `json:"encryptedContent"`
		IV               string    `json:"iv"`
		Timestamp        time.Time `json:"timestamp"`
	}

	UserStatusChange struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}

	SendFriendRequest struct {
		TargetUsername string `json:"targetUsername"`
	}

	ReceiveFriendRequest struct {
		FromUser string `json:"fromUser"`
		FromID   string `json:"fromId"`
	}

	AcceptFriendRequest struct {
		RequesterID string `json:"requesterId"`
	}

	RequestAccepted struct {
		AccepterID   string        `json:"accepterId"`
		AccepterName string        `json:"accepterName"`
		Notification *Notification `json:"notification,omitempty"`
	}

	StartHandshakeInit struct {
		TargetID       string `json:"targetId"`
		TargetUsername string `json:"targetUsername"`
	}

	ClearNotification struct {
		NotifID string `json:"notifId"`
	}
)

func NewEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Event: event, Data: data})
}
