package hub

import (
	"errors"
	"sync"

	"secure_chat/internal/model"
	"secure_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrAlreadyJoined = errors.New("connection already joined as another user")

type (
	// Conn is one live client session. Frames queued with Send are drained by
	// the transport's writer goroutine through Outbox.
	Conn struct {
		ID string

		mu       sync.RWMutex
		send     chan []byte
		closed   bool
		userID   string
		username string
	}

	// Hub addresses connections by identity: every session joined as the same
	// user id receives frames emitted to that id.
	Hub struct {
		// membership orders Join and Remove together with the presence
		// transition each one causes. It is never held by Emit or Broadcast.
		membership sync.Mutex
		presence   Presence

		mu     sync.RWMutex
		conns  map[string]*Conn
		groups map[string]map[string]*Conn
	}

	// Presence is told when an identity gains its first or loses its last session.
	Presence interface {
		MarkOnline(userID string) bool
		MarkOffline(userID string) bool
	}

	Option func(*Hub)
)

func WithPresence(p Presence) Option {
	return func(h *Hub) { h.presence = p }
}

func NewConn(buffer int) *Conn {
	return &Conn{
		ID:   uuid.NewString(),
		send: make(chan []byte, buffer),
	}
}

func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// Send queues a frame without blocking. A full buffer drops the frame.
func (c *Conn) Send(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.Warn("dropping frame for slow connection", zap.String("conn", c.ID), zap.String("user", c.userID))
		return false
	}
}

func (c *Conn) Emit(event string, payload any) error {
	frame, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.Send(frame)
	return nil
}

func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Close stops delivery; the Outbox channel is closed exactly once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		conns:  make(map[string]*Conn),
		groups: make(map[string]map[string]*Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

// Join binds c to userID. first reports whether c is the identity's only session.
// The identity is marked online before Join returns.
func (h *Hub) Join(c *Conn, userID, username string) (first bool, err error) {
	h.membership.Lock()
	defer h.membership.Unlock()

	first, err = h.join(c, userID, username)
	if err == nil && h.presence != nil {
		h.presence.MarkOnline(userID)
	}
	return first, err
}

func (h *Hub) join(c *Conn, userID, username string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.mu.Lock()
	current := c.userID
	if current != "" && current != userID {
		c.mu.Unlock()
		return false, ErrAlreadyJoined
	}
	c.userID = userID
	c.username = username
	c.mu.Unlock()

	if current == userID {
		return false, nil
	}

	group, ok := h.groups[userID]
	if !ok {
		group = make(map[string]*Conn)
		h.groups[userID] = group
	}
	group[c.ID] = c
	return len(group) == 1, nil
}

// Remove forgets c. last reports whether it was the identity's final session,
// in which case the identity is marked offline before Remove returns.
func (h *Hub) Remove(c *Conn) (userID string, last bool) {
	h.membership.Lock()
	defer h.membership.Unlock()

	userID, last = h.remove(c)
	if last && h.presence != nil {
		h.presence.MarkOffline(userID)
	}
	return userID, last
}

func (h *Hub) remove(c *Conn) (userID string, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.ID)
	userID = c.UserID()
	if userID == "" {
		return "", false
	}
	group := h.groups[userID]
	delete(group, c.ID)
	if len(group) == 0 {
		delete(h.groups, userID)
		return userID, true
	}
	return userID, false
}

// Emit sends to every session of userID. Offline identities are a no-op.
func (h *Hub) Emit(userID, event string, payload any) error {
	frame, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[userID] {
		c.Send(frame)
	}
	return nil
}

// BroadcastExcept sends to every connection not joined as userID.
func (h *Hub) BroadcastExcept(userID, event string, payload any) error {
	frame, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.UserID() == userID {
			continue
		}
		c.Send(frame)
	}
	return nil
}

func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}
