package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"secure_chat/internal/hub"
	"secure_chat/internal/model"
	"secure_chat/internal/service/friendship"
	"secure_chat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendBuffer   = 64
	maxFrameSize = 64 * 1024
	pongWait     = 90 * time.Second
	pingPeriod   = pongWait * 9 / 10
	writeWait    = 10 * time.Second
)

var errNotJoined = errors.New("join_user required")

type wsSession struct {
	server  *HttpServer
	conn    *hub.Conn
	ws      *websocket.Conn
	limiter *rate.Limiter
}

func (s *HttpServer) HandleWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		c := hub.NewConn(sendBuffer)
		s.hub.Add(c)
		sess := &wsSession{
			server:  s,
			conn:    c,
			ws:      ws,
			limiter: rate.NewLimiter(rate.Limit(s.cfg.EventRate), s.cfg.EventBurst),
		}
		log.Debug("websocket connected", zap.String("conn", c.ID))

		go sess.writeLoop()
		sess.readLoop()
	}
}

func (s *HttpServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (sess *wsSession) readLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sess.disconnect()

	sess.ws.SetReadLimit(maxFrameSize)
	_ = sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		return sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.String("conn", sess.conn.ID), zap.Error(err))
			}
			return
		}
		_ = sess.ws.SetReadDeadline(time.Now().Add(pongWait))

		if !sess.limiter.Allow() {
			sess.fail("rate limit exceeded")
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			sess.fail("malformed frame")
			continue
		}
		sess.dispatch(ctx, &env)
	}
}

// writeLoop is the only writer on ws.
func (sess *wsSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-sess.conn.Outbox():
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (sess *wsSession) disconnect() {
	userID, last := sess.server.hub.Remove(sess.conn)
	sess.conn.Close()
	log.Debug("websocket disconnected", zap.String("conn", sess.conn.ID), zap.String("user", userID), zap.Bool("last", last))
}

func (sess *wsSession) dispatch(ctx context.Context, env *model.Envelope) {
	if env.Event == model.EventJoinUser {
		sess.handleJoin(ctx, env.Data)
		return
	}
	if sess.conn.UserID() == "" {
		sess.fail(errNotJoined.Error())
		return
	}

	var err error
	switch env.Event {
	case model.EventRequestPublicKey:
		err = sess.handleRequestPublicKey(ctx, env.Data)
	case model.EventSendMessage:
		err = sess.handleSendMessage(ctx, env.Data)
	case model.EventSendFriendRequest:
		err = sess.handleFriendRequest(ctx, env.Data)
	case model.EventAcceptFriendRequest:
		err = sess.handleAccept(ctx, env.Data)
	case model.EventClearNotification:
		err = sess.handleClearNotification(ctx, env.Data)
	default:
		sess.fail(fmt.Sprintf("unknown event %q", env.Event))
		return
	}

	if err != nil {
		sess.fail(clientMessage(env.Event, sess.conn.UserID(), err))
	}
}

// handleJoin accepts the user id either as a bare JSON string or as {"userId": ...}.
func (sess *wsSession) handleJoin(ctx context.Context, data json.RawMessage) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil {
		var obj struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			sess.fail("malformed frame")
			return
		}
		userID = obj.UserID
	}

	user, err := sess.server.store.Users.GetByID(ctx, userID)
	if err != nil {
		log.Error("join lookup failed", zap.String("user", userID), zap.Error(err))
		sess.fail(internalError)
		return
	}
	if user == nil {
		sess.fail(friendship.ErrPeerNotFound.Error())
		return
	}

	if _, err := sess.server.hub.Join(sess.conn, user.ID, user.Username); err != nil {
		sess.fail(err.Error())
		return
	}
	log.Info("user joined",
		zap.String("user", user.ID),
		zap.String("conn", sess.conn.ID),
		zap.Int("sessions", sess.server.hub.Sessions(user.ID)),
	)
}

func (sess *wsSession) handleRequestPublicKey(ctx context.Context, data json.RawMessage) error {
	var req model.RequestPublicKey
	if err := json.Unmarshal(data, &req); err != nil {
		return errMalformed
	}

	user, err := sess.server.store.Users.GetByName(ctx, model.NormalizeUsername(req.Username))
	if err != nil {
		return err
	}
	if user == nil {
		return friendship.ErrPeerNotFound
	}
	return sess.conn.Emit(model.EventResponsePublicKey, model.ResponsePublicKey{
		UserID:    user.ID,
		PublicKey: user.PublicKey,
		Username:  user.Username,
	})
}

func (sess *wsSession) handleSendMessage(ctx context.Context, data json.RawMessage) error {
	var req model.SendMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return errMalformed
	}
	if req.SenderID != sess.conn.UserID() {
		return errSenderMismatch
	}

	recipient, err := sess.server.store.Users.GetByID(ctx, req.RecipientID)
	if err != nil {
		return err
	}
	if recipient == nil {
		return friendship.ErrPeerNotFound
	}

	_, err = sess.server.relay.Route(ctx, req.SenderID, req.RecipientID, req.EncryptedContent, req.IV)
	return err
}

func (sess *wsSession) handleFriendRequest(ctx context.Context, data json.RawMessage) error {
	var req model.SendFriendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errMalformed
	}

	if _, err := sess.server.friendships.Request(ctx, sess.user(), req.TargetUsername); err != nil {
		return err
	}
	return sess.conn.Emit(model.EventRequestSentSuccess, fmt.Sprintf("friend request sent to %s", model.NormalizeUsername(req.TargetUsername)))
}

func (sess *wsSession) handleAccept(ctx context.Context, data json.RawMessage) error {
	var req model.AcceptFriendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errMalformed
	}

	_, err := sess.server.friendships.Accept(ctx, sess.user(), req.RequesterID)
	return err
}

func (sess *wsSession) handleClearNotification(ctx context.Context, data json.RawMessage) error {
	var req model.ClearNotification
	if err := json.Unmarshal(data, &req); err != nil {
		return errMalformed
	}

	_, err := sess.server.store.Notifications.Delete(ctx, sess.conn.UserID(), req.NotifID)
	return err
}

func (sess *wsSession) user() *model.User {
	return &model.User{
		ID:       sess.conn.UserID(),
		Username: sess.conn.Username(),
	}
}

func (sess *wsSession) fail(msg string) {
	if err := sess.conn.Emit(model.EventError, msg); err != nil {
		log.Error("emit error event failed", zap.Error(err))
	}
}
