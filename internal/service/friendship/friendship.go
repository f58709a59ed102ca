package friendship

import (
	"context"
	"errors"
	"fmt"

	"secure_chat/internal/model"
	"secure_chat/internal/repository"
	"secure_chat/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrSelfRequest           = errors.New("cannot add yourself")
	ErrPeerNotFound          = errors.New("user not found")
	ErrDuplicateRelationship = errors.New("relationship already exists")
	ErrInvalidTransition     = errors.New("no pending request to accept")

	ErrAlreadyFriends = fmt.Errorf("%w: already friends", ErrDuplicateRelationship)
	ErrRequestPending = fmt.Errorf("%w: request already pending", ErrDuplicateRelationship)
	ErrBlocked        = fmt.Errorf("%w: relationship blocked", ErrDuplicateRelationship)
)

type (
	// Emitter delivers an event to every live session of an identity. Emitting
	// to an offline identity is a no-op.
	Emitter interface {
		Emit(userID, event string, payload any) error
	}

	Presence interface {
		IsOnline(userID string) bool
	}

	Service struct {
		users         repository.UserStore
		friendships   repository.FriendshipStore
		notifications repository.NotificationStore
		emitter       Emitter
		presence      Presence
	}
)

func NewService(store *repository.Store, emitter Emitter, presence Presence) *Service {
	return &Service{
		users:         store.Users,
		friendships:   store.Friendships,
		notifications: store.Notifications,
		emitter:       emitter,
		presence:      presence,
	}
}

// Request creates a pending relationship from requester to the named user.
func (s *Service) Request(ctx context.Context, requester *model.User, recipientUsername string) (*model.Friendship, error) {
	target, err := s.users.GetByName(ctx, model.NormalizeUsername(recipientUsername))
	if err != nil {
		return nil, fmt.Errorf("lookup recipient: %w", err)
	}
	if target == nil {
		return nil, ErrPeerNotFound
	}
	if target.ID == requester.ID {
		return nil, ErrSelfRequest
	}

	existing, err := s.friendships.FindBetween(ctx, requester.ID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup relationship: %w", err)
	}
	if existing != nil {
		return nil, duplicateFor(existing.Status)
	}

	f := &model.Friendship{
		RequesterID: requester.ID,
		RecipientID: target.ID,
		Status:      model.FriendshipPending,
	}
	if _, err := s.friendships.Create(ctx, f); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateRelationship
		}
		return nil, fmt.Errorf("create relationship: %w", err)
	}

	s.emit(target.ID, model.EventReceiveFriendRequest, model.ReceiveFriendRequest{
		FromUser: requester.Username,
		FromID:   requester.ID,
	})
	return f, nil
}

// Accept moves requesterID -> accepter from pending to accepted.
func (s *Service) Accept(ctx context.Context, accepter *model.User, requesterID string) (*model.Friendship, error) {
	f, err := s.friendships.Transition(ctx, requesterID, accepter.ID, model.FriendshipPending, model.FriendshipAccepted)
	if err != nil {
		return nil, fmt.Errorf("accept relationship: %w", err)
	}
	if f == nil {
		return nil, ErrInvalidTransition
	}

	notif := &model.Notification{
		Content: fmt.Sprintf("%s accepted your friend request!", accepter.Username),
		Type:    model.NotificationFriendAccept,
	}
	if err := s.notifications.Add(ctx, requesterID, notif); err != nil {
		log.Error("store accept notification failed", zap.String("user", requesterID), zap.Error(err))
		notif = nil
	}

	s.emit(requesterID, model.EventRequestAccepted, model.RequestAccepted{
		AccepterID:   accepter.ID,
		AccepterName: accepter.Username,
		Notification: notif,
	})

	requester, err := s.users.GetByID(ctx, requesterID)
	if err != nil {
		log.Error("lookup requester failed", zap.String("user", requesterID), zap.Error(err))
	}
	handshake := model.StartHandshakeInit{TargetID: requesterID}
	if requester != nil {
		handshake.TargetUsername = requester.Username
	}
	s.emit(accepter.ID, model.EventStartHandshakeInit, handshake)

	return f, nil
}

// Contacts lists accepted friends with their live presence.
func (s *Service) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	list, err := s.friendships.ListAccepted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, f := range list {
		ids = append(ids, f.Other(userID))
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}

	out := make([]model.Contact, 0, len(ids))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			continue
		}
		out = append(out, model.Contact{
			ID:       id,
			Username: u.Username,
			Online:   s.presence.IsOnline(id),
		})
	}
	return out, nil
}

// PendingRequests lists requests addressed to userID awaiting acceptance.
func (s *Service) PendingRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	list, err := s.friendships.ListPendingFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, f := range list {
		ids = append(ids, f.RequesterID)
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load requesters: %w", err)
	}

	out := make([]model.FriendRequest, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, model.FriendRequest{FromID: id, FromUser: u.Username})
		}
	}
	return out, nil
}

func (s *Service) emit(userID, event string, payload any) {
	if err := s.emitter.Emit(userID, event, payload); err != nil {
		log.Error("emit failed", zap.String("event", event), zap.String("user", userID), zap.Error(err))
	}
}

func duplicateFor(status model.FriendshipStatus) error {
	switch status {
	case model.FriendshipAccepted:
		return ErrAlreadyFriends
	case model.FriendshipBlocked:
		return ErrBlocked
	default:
		return ErrRequestPending
	}
}
