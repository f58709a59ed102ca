package server

import (
	"errors"

	"secure_chat/internal/hub"
	"secure_chat/internal/service/friendship"
	"secure_chat/internal/service/relay"
	"secure_chat/internal/utils/log"

	"go.uber.org/zap"
)

var (
	errMalformed      = errors.New("malformed frame")
	errSenderMismatch = errors.New("senderId does not match joined user")
)

// clientMessage maps a handler error to the text sent in an error event.
// Anything unrecognised is a storage failure: logged, reported generically.
func clientMessage(event, userID string, err error) string {
	switch {
	case errors.Is(err, errMalformed),
		errors.Is(err, errSenderMismatch),
		errors.Is(err, hub.ErrAlreadyJoined),
		errors.Is(err, relay.ErrInvalidPayload),
		errors.Is(err, friendship.ErrPeerNotFound),
		errors.Is(err, friendship.ErrSelfRequest),
		errors.Is(err, friendship.ErrInvalidTransition):
		return err.Error()
	case errors.Is(err, friendship.ErrAlreadyFriends):
		return "already friends"
	case errors.Is(err, friendship.ErrRequestPending):
		return "request already pending"
	case errors.Is(err, friendship.ErrBlocked):
		return "relationship blocked"
	case errors.Is(err, friendship.ErrDuplicateRelationship):
		return friendship.ErrDuplicateRelationship.Error()
	}

	log.Error("event failed", zap.String("event", event), zap.String("user", userID), zap.Error(err))
	return internalError
}
