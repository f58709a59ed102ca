// Package repository declares the persistence seams shared by the Mongo and
// in-memory backends. Lookups return (nil, nil) when nothing matches.
package repository

import (
	"context"
	"errors"

	"secure_chat/internal/model"
)

// ErrDuplicate is returned when a uniqueness constraint rejects a write:
// a taken username, or a second relationship record for the same pair.
var ErrDuplicate = errors.New("duplicate record")

type (
	UserStore interface {
		Create(ctx context.Context, user *model.User) (string, error)
		GetByID(ctx context.Context, id string) (*model.User, error)
		GetByName(ctx context.Context, name string) (*model.User, error)
		ListByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
	}

	FriendshipStore interface {
		Create(ctx context.Context, f *model.Friendship) (string, error)
		// FindBetween matches the pair in either direction.
		FindBetween(ctx context.Context, a, b string) (*model.Friendship, error)
		// Transition atomically moves requester->recipient from one status to
		// another and returns the updated record, or nil when nothing matched.
		Transition(ctx context.Context, requesterID, recipientID string, from, to model.FriendshipStatus) (*model.Friendship, error)
		ListAccepted(ctx context.Context, userID string) ([]*model.Friendship, error)
		ListPendingFor(ctx context.Context, recipientID string) ([]*model.Friendship, error)
	}

	MessageStore interface {
		Create(ctx context.Context, m *model.Message) (string, error)
		// Between returns the newest limit messages exchanged by a and b in
		// ascending timestamp order. limit <= 0 returns everything.
		Between(ctx context.Context, a, b string, limit int) ([]*model.Message, error)
	}

	NotificationStore interface {
		Add(ctx context.Context, userID string, n *model.Notification) error
		// List returns newest first.
		List(ctx context.Context, userID string) ([]*model.Notification, error)
		Delete(ctx context.Context, userID, notifID string) (bool, error)
	}

	Store struct {
		Users         UserStore
		Friendships   FriendshipStore
		Messages      MessageStore
		Notifications NotificationStore
	}
)
