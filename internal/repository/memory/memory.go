// Package memory is a process-local backend for development runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"secure_chat/internal/model"
	"secure_chat/internal/repository"

	"github.com/google/uuid"
)

type (
	db struct {
		mu sync.RWMutex

		users       map[string]*model.User
		usersByName map[string]string

		friendships map[string]*model.Friendship // keyed by model.PairKey
		messages    []*model.Message
		notifs      map[string][]*model.Notification
	}

	Users         struct{ db *db }
	Friendships   struct{ db *db }
	Messages      struct{ db *db }
	Notifications struct{ db *db }
)

func New() *repository.Store {
	d := &db{
		users:       make(map[string]*model.User),
		usersByName: make(map[string]string),
		friendships: make(map[string]*model.Friendship),
		notifs:      make(map[string][]*model.Notification),
	}
	return &repository.Store{
		Users:         &Users{d},
		Friendships:   &Friendships{d},
		Messages:      &Messages{d},
		Notifications: &Notifications{d},
	}
}

func (s *Users) Create(_ context.Context, user *model.User) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.usersByName[user.Username]; ok {
		return "", repository.ErrDuplicate
	}
	user.ID = uuid.NewString()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	cp := *user
	s.db.users[user.ID] = &cp
	s.db.usersByName[user.Username] = user.ID
	return user.ID, nil
}

func (s *Users) GetByID(_ context.Context, id string) (*model.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	u, ok := s.db.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Users) GetByName(_ context.Context, name string) (*model.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	id, ok := s.db.usersByName[name]
	if !ok {
		return nil, nil
	}
	cp := *s.db.users[id]
	return &cp, nil
}

func (s *Users) ListByIDs(_ context.Context, ids []string) (map[string]*model.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.db.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

// Create enforces one record per unordered pair under the store lock.
func (s *Friendships) Create(_ context.Context, f *model.Friendship) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := model.PairKey(f.RequesterID, f.RecipientID)
	if _, ok := s.db.friendships[key]; ok {
		return "", repository.ErrDuplicate
	}
	f.ID = uuid.NewString()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	cp := *f
	s.db.friendships[key] = &cp
	return f.ID, nil
}

func (s *Friendships) FindBetween(_ context.Context, a, b string) (*model.Friendship, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	f, ok := s.db.friendships[model.PairKey(a, b)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s *Friendships) Transition(_ context.Context, requesterID, recipientID string, from, to model.FriendshipStatus) (*model.Friendship, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	f, ok := s.db.friendships[model.PairKey(requesterID, recipientID)]
	if !ok || f.RequesterID != requesterID || f.RecipientID != recipientID || f.Status != from {
		return nil, nil
	}
	f.Status = to
	cp := *f
	return &cp, nil
}

func (s *Friendships) ListAccepted(_ context.Context, userID string) ([]*model.Friendship, error) {
	return s.list(func(f *model.Friendship) bool {
		return f.Status == model.FriendshipAccepted && (f.RequesterID == userID || f.RecipientID == userID)
	}), nil
}

func (s *Friendships) ListPendingFor(_ context.Context, recipientID string) ([]*model.Friendship, error) {
	return s.list(func(f *model.Friendship) bool {
		return f.Status == model.FriendshipPending && f.RecipientID == recipientID
	}), nil
}

func (s *Friendships) list(match func(*model.Friendship) bool) []*model.Friendship {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []*model.Friendship
	for _, f := range s.db.friendships {
		if match(f) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Messages) Create(_ context.Context, m *model.Message) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m.ID = uuid.NewString()
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	cp := *m
	s.db.messages = append(s.db.messages, &cp)
	return m.ID, nil
}

func (s *Messages) Between(_ context.Context, a, b string, limit int) ([]*model.Message, error) {
	s.db.mu.RLock()
	var out []*model.Message
	for _, m := range s.db.messages {
		if (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a) {
			cp := *m
			out = append(out, &cp)
		}
	}
	s.db.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Notifications) Add(_ context.Context, userID string, n *model.Notification) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	n.ID = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.db.notifs[userID] = append(s.db.notifs[userID], &cp)
	return nil
}

func (s *Notifications) List(_ context.Context, userID string) ([]*model.Notification, error) {
	s.db.mu.RLock()
	out := make([]*model.Notification, 0, len(s.db.notifs[userID]))
	for _, n := range s.db.notifs[userID] {
		cp := *n
		out = append(out, &cp)
	}
	s.db.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Notifications) Delete(_ context.Context, userID, notifID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	list := s.db.notifs[userID]
	for i, n := range list {
		if n.ID == notifID {
			s.db.notifs[userID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
