package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"secure_chat/internal/cryptographic/dh"
	"secure_chat/internal/cryptographic/kdf"
	"secure_chat/internal/model"
	"secure_chat/internal/protocol/handshake"
	"secure_chat/internal/protocol/keywrap"
	"secure_chat/internal/utils/log"

	"go.uber.org/zap"
)

const (
	undecryptable = "[unable to decrypt message]"
	historyLimit  = 100
)

var (
	ErrAuthenticationFailure = errors.New("authentication failed")
	ErrNotLoggedIn           = errors.New("not logged in")
	ErrNoActiveSession       = errors.New("no active chat; connect to a friend first")
)

type (
	API interface {
		Register(ctx context.Context, req *model.RegisterRequest) error
		LoginParams(ctx context.Context, username string) (*model.LoginParamsResponse, error)
		Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error)
		History(ctx context.Context, a, b string, limit int) ([]*model.Message, error)
		Contacts(ctx context.Context, userID string) ([]model.Contact, error)
		FriendRequests(ctx context.Context, userID string) ([]model.FriendRequest, error)
		Notifications(ctx context.Context, userID string) ([]model.Notification, error)
	}

	Transport interface {
		Send(event string, payload any) error
	}

	// View renders orchestrator output. Calls may come from any goroutine.
	View interface {
		ShowMessage(from, text string, at time.Time, mine bool)
		ShowSystem(text string)
		ShowError(text string)
		SetPeer(username string)
		UpdateContacts(contacts []model.Contact)
		UpdatePresence(userID string, online bool)
		ShowFriendRequest(req model.FriendRequest)
		ShowNotification(n model.Notification)
	}

	// Orchestrator drives one logged-in client: key material, the single active
	// chat session and the event channel.
	Orchestrator struct {
		api  API
		view View

		mu       sync.Mutex
		identity *Identity
		tx       Transport
		session  *handshake.Session
	}
)

func NewOrchestrator(api API, view View) *Orchestrator {
	return &Orchestrator{
		api:  api,
		view: view,
	}
}

// Register creates a fresh identity. The password never leaves this process.
func (o *Orchestrator) Register(ctx context.Context, username, password string) error {
	username = model.NormalizeUsername(username)
	salt, err := kdf.NewSalt()
	if err != nil {
		return err
	}
	keys, err := kdf.Derive(password, salt)
	if err != nil {
		return err
	}

	priv, err := dh.NewKeyPair()
	if err != nil {
		return err
	}
	pub, err := dh.EncodePublicKey(priv.PublicKey())
	if err != nil {
		return err
	}
	wrapped, iv, err := keywrap.Wrap(priv, keys.EncryptionKey)
	if err != nil {
		return err
	}

	enc := base64.StdEncoding.EncodeToString
	return o.api.Register(ctx, &model.RegisterRequest{
		Username:            username,
		Salt:                enc(salt),
		AuthKeyHash:         enc(keys.AuthKey),
		PublicKey:           pub,
		EncryptedPrivateKey: enc(wrapped),
		IV:                  enc(iv),
	})
}

// Login unwraps the private key locally before proving the auth key to the server.
func (o *Orchestrator) Login(ctx context.Context, username, password string) (*Identity, error) {
	username = model.NormalizeUsername(username)
	params, err := o.api.LoginParams(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
		}
		return nil, fmt.Errorf("login params: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(params.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(params.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(params.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}

	keys, err := kdf.Derive(password, salt)
	if err != nil {
		return nil, err
	}
	priv, err := keywrap.Unwrap(wrapped, iv, keys.EncryptionKey)
	if err != nil {
		if errors.Is(err, keywrap.ErrWrongPassphrase) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
		}
		return nil, err
	}

	resp, err := o.api.Login(ctx, &model.LoginRequest{
		Username:    username,
		AuthKeyHash: base64.StdEncoding.EncodeToString(keys.AuthKey),
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	id := &Identity{
		UserID:    resp.UserID,
		Username:  resp.Username,
		PublicKey: resp.PublicKey,
		Private:   priv,
	}
	o.Resume(id)
	return id, nil
}

// Resume installs an identity restored from the key cache.
func (o *Orchestrator) Resume(id *Identity) {
	o.mu.Lock()
	o.identity = id
	o.mu.Unlock()
}

func (o *Orchestrator) Identity() *Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// Attach joins the event channel as the current identity.
func (o *Orchestrator) Attach(tx Transport) error {
	o.mu.Lock()
	id := o.identity
	o.tx = tx
	o.mu.Unlock()

	if id == nil {
		return ErrNotLoggedIn
	}
	return tx.Send(model.EventJoinUser, id.UserID)
}

// Bootstrap loads contacts, pending requests and notifications into the view.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	id := o.Identity()
	if id == nil {
		return ErrNotLoggedIn
	}

	contacts, err := o.api.Contacts(ctx, id.UserID)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	o.view.UpdateContacts(contacts)

	reqs, err := o.api.FriendRequests(ctx, id.UserID)
	if err != nil {
		return fmt.Errorf("load friend requests: %w", err)
	}
	for _, r := range reqs {
		o.view.ShowFriendRequest(r)
	}

	notifs, err := o.api.Notifications(ctx, id.UserID)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	for _, n := range notifs {
		o.view.ShowNotification(n)
	}
	return nil
}

// Connect asks the relay for the peer's public key; the session is created
// when the response arrives.
func (o *Orchestrator) Connect(peerUsername string) error {
	peerUsername = model.NormalizeUsername(peerUsername)
	if peerUsername == "" {
		return errors.New("username required")
	}
	return o.emit(model.EventRequestPublicKey, model.RequestPublicKey{Username: peerUsername})
}

// Send encrypts text under the active session.
func (o *Orchestrator) Send(text string) error {
	o.mu.Lock()
	sess, id := o.session, o.identity
	o.mu.Unlock()

	if id == nil {
		return ErrNotLoggedIn
	}
	if sess == nil {
		return ErrNoActiveSession
	}

	ct, iv, err := sess.Encrypt(text)
	if err != nil {
		return err
	}
	if err := o.emit(model.EventSendMessage, model.SendMessage{
		SenderID:         id.UserID,
		RecipientID:      sess.PeerID,
		EncryptedContent: ct,
		IV:               iv,
	}); err != nil {
		return err
	}
	o.view.ShowMessage(id.Username, text, time.Now(), true)
	return nil
}

func (o *Orchestrator) AddFriend(username string) error {
	return o.emit(model.EventSendFriendRequest, model.SendFriendRequest{TargetUsername: model.NormalizeUsername(username)})
}

func (o *Orchestrator) Accept(requesterID string) error {
	return o.emit(model.EventAcceptFriendRequest, model.AcceptFriendRequest{RequesterID: requesterID})
}

func (o *Orchestrator) ClearNotification(id string) error {
	return o.emit(model.EventClearNotification, model.ClearNotification{NotifID: id})
}

// ActivePeer returns the username of the current chat, or "".
func (o *Orchestrator) ActivePeer() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.PeerUsername
}

// Close destroys the active session key.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
}

// HandleEvent applies one server frame.
func (o *Orchestrator) HandleEvent(ctx context.Context, env *model.Envelope) {
	var err error
	switch env.Event {
	case model.EventResponsePublicKey:
		err = o.onPublicKey(ctx, env.Data)
	case model.EventReceiveMessage:
		err = o.onMessage(env.Data)
	case model.EventUserStatusChange:
		var p model.UserStatusChange
		if err = json.Unmarshal(env.Data, &p); err == nil {
			o.view.UpdatePresence(p.UserID, p.Status == model.StatusOnline)
		}
	case model.EventReceiveFriendRequest:
		var p model.ReceiveFriendRequest
		if err = json.Unmarshal(env.Data, &p); err == nil {
			o.view.ShowFriendRequest(model.FriendRequest{FromID: p.FromID, FromUser: p.FromUser})
		}
	case model.EventRequestSentSuccess:
		var msg string
		if err = json.Unmarshal(env.Data, &msg); err == nil {
			o.view.ShowSystem(msg)
		}
	case model.EventRequestAccepted:
		err = o.onAccepted(ctx, env.Data)
	case model.EventStartHandshakeInit:
		var p model.StartHandshakeInit
		if err = json.Unmarshal(env.Data, &p); err == nil {
			o.refreshContacts(ctx)
			err = o.Connect(p.TargetUsername)
		}
	case model.EventError:
		var msg string
		if err = json.Unmarshal(env.Data, &msg); err == nil {
			o.view.ShowError(msg)
		}
	default:
		log.Debug("ignoring event", zap.String("event", env.Event))
	}

	if err != nil {
		log.Error("handle event failed", zap.String("event", env.Event), zap.Error(err))
		o.view.ShowError(err.Error())
	}
}

// onPublicKey replaces the active session and replays history with the new peer.
func (o *Orchestrator) onPublicKey(ctx context.Context, data json.RawMessage) error {
	var p model.ResponsePublicKey
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	o.mu.Lock()
	id := o.identity
	o.mu.Unlock()
	if id == nil {
		return ErrNotLoggedIn
	}
	if p.UserID == id.UserID {
		return errors.New("cannot chat with yourself")
	}

	sess, err := handshake.NewSession(id.Private, p.UserID, p.Username, p.PublicKey)
	if err != nil {
		return fmt.Errorf("handshake with %s: %w", p.Username, err)
	}

	o.mu.Lock()
	if o.session != nil {
		o.session.Destroy()
	}
	o.session = sess
	o.mu.Unlock()

	o.view.SetPeer(p.Username)
	log.Info("session established", zap.String("peer", p.UserID))

	msgs, err := o.api.History(ctx, id.UserID, p.UserID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, m := range msgs {
		mine := m.Sender == id.UserID
		from := p.Username
		if mine {
			from = id.Username
		}
		o.view.ShowMessage(from, o.decrypt(sess, m.EncryptedContent, m.IV), m.Timestamp, mine)
	}
	return nil
}

func (o *Orchestrator) onMessage(data json.RawMessage) error {
	var p model.ReceiveMessage
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()

	if sess == nil || sess.PeerID != p.SenderID {
		log.Debug("message from inactive peer", zap.String("sender", p.SenderID))
		return nil
	}
	o.view.ShowMessage(sess.PeerUsername, o.decrypt(sess, p.EncryptedContent, p.IV), p.Timestamp, false)
	return nil
}

func (o *Orchestrator) onAccepted(ctx context.Context, data json.RawMessage) error {
	var p model.RequestAccepted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Notification != nil {
		o.view.ShowNotification(*p.Notification)
	}
	o.refreshContacts(ctx)
	return o.Connect(p.AccepterName)
}

func (o *Orchestrator) refreshContacts(ctx context.Context) {
	id := o.Identity()
	if id == nil {
		return
	}
	contacts, err := o.api.Contacts(ctx, id.UserID)
	if err != nil {
		log.Warn("refresh contacts failed", zap.Error(err))
		return
	}
	o.view.UpdateContacts(contacts)
}

func (o *Orchestrator) decrypt(sess *handshake.Session, ciphertext, iv string) string {
	plain, err := sess.Decrypt(ciphertext, iv)
	if err != nil {
		log.Warn("decrypt failed", zap.String("peer", sess.PeerID), zap.Error(err))
		return undecryptable
	}
	return plain
}

func (o *Orchestrator) emit(event string, payload any) error {
	o.mu.Lock()
	tx := o.tx
	o.mu.Unlock()
	if tx == nil {
		return ErrNotLoggedIn
	}
	return tx.Send(event, payload)
}
