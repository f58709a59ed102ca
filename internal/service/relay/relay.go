package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"secure_chat/internal/cryptographic/encryption"
	"secure_chat/internal/model"
	"secure_chat/internal/repository"
	"secure_chat/internal/utils/log"

	"go.uber.org/zap"
)

var ErrInvalidPayload = errors.New("invalid message payload")

type (
	Emitter interface {
		Emit(userID, event string, payload any) error
	}

	// Cache is the optional recent-history layer in front of the message store.
	// Warm must refuse to land if Invalidate ran for the pair after Version.
	Cache interface {
		Capacity() int
		Get(ctx context.Context, a, b string, limit int) ([]*model.Message, bool, error)
		Version(ctx context.Context, a, b string) (int64, error)
		Warm(ctx context.Context, a, b string, version int64, msgs []*model.Message) (bool, error)
		Invalidate(ctx context.Context, a, b string) error
	}

	Router struct {
		messages repository.MessageStore
		cache    Cache
		emitter  Emitter
		now      func() time.Time
	}

	Option func(*Router)
)

func WithCache(c Cache) Option {
	return func(r *Router) { r.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func NewRouter(messages repository.MessageStore, emitter Emitter, opts ...Option) *Router {
	r := &Router{
		messages: messages,
		emitter:  emitter,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route stores one ciphertext and forwards it to the recipient's live sessions.
// Persistence happens whether or not the recipient is online.
func (r *Router) Route(ctx context.Context, senderID, recipientID, ciphertext, iv string) (*model.Message, error) {
	if senderID == "" || recipientID == "" {
		return nil, fmt.Errorf("%w: missing participant", ErrInvalidPayload)
	}
	if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil || ciphertext == "" {
		return nil, fmt.Errorf("%w: ciphertext", ErrInvalidPayload)
	}
	if nonce, err := base64.StdEncoding.DecodeString(iv); err != nil || len(nonce) != encryption.NonceSize {
		return nil, fmt.Errorf("%w: iv", ErrInvalidPayload)
	}

	m := &model.Message{
		Sender:           senderID,
		Recipient:        recipientID,
		EncryptedContent: ciphertext,
		IV:               iv,
		Timestamp:        r.now(),
	}
	if _, err := r.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, senderID, recipientID); err != nil {
			log.Warn("history cache invalidate failed", zap.Error(err))
		}
	}

	if err := r.emitter.Emit(recipientID, model.EventReceiveMessage, model.ReceiveMessage{
		SenderID:         senderID,
		EncryptedContent: ciphertext,
		IV:               iv,
		Timestamp:        m.Timestamp,
	}); err != nil {
		log.Error("forward message failed", zap.String("recipient", recipientID), zap.Error(err))
	}
	return m, nil
}

// History returns both directions of the a/b conversation in ascending order,
// at most limit messages (limit <= 0 means all).
func (r *Router) History(ctx context.Context, a, b string, limit int) ([]*model.Message, error) {
	cacheable := r.cache != nil && limit > 0 && limit <= r.cache.Capacity()
	var version int64
	if cacheable {
		msgs, ok, err := r.cache.Get(ctx, a, b, limit)
		if err != nil {
			log.Warn("history cache read failed", zap.Error(err))
		}
		if ok && err == nil {
			return msgs, nil
		}
		if version, err = r.cache.Version(ctx, a, b); err != nil {
			log.Warn("history cache version failed", zap.Error(err))
			cacheable = false
		}
	}

	fetch := limit
	if cacheable {
		fetch = r.cache.Capacity()
	}
	msgs, err := r.messages.Between(ctx, a, b, fetch)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if cacheable {
		if applied, err := r.cache.Warm(ctx, a, b, version, msgs); err != nil {
			log.Warn("history cache warm failed", zap.Error(err))
		} else if !applied {
			log.Debug("history cache warm skipped, pair changed", zap.String("pair", model.PairKey(a, b)))
		}
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return msgs, nil
}
