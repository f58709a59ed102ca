package server_test

import (
	"bytes"
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"secure_chat/internal/config"
	"secure_chat/internal/cryptographic/dh"
	"secure_chat/internal/cryptographic/kdf"
	"secure_chat/internal/model"
	"secure_chat/internal/protocol/handshake"
	"secure_chat/internal/protocol/keywrap"
	"secure_chat/internal/repository/memory"
	"secure_chat/internal/service/server"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

type identity struct {
	ID        string
	Username  string
	PublicKey string
	Private   *ecdh.PrivateKey
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Addr:           "127.0.0.1:0",
		AllowedOrigins: []string{"*"},
		ShutdownGrace:  time.Second,
		BcryptCost:     bcrypt.MinCost,
		EventRate:      1000,
		EventBurst:     1000,
	}
	ts := httptest.NewServer(server.NewHttpServer(cfg, memory.New(), nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func registerRequest(t *testing.T, username, password string) model.RegisterRequest {
	t.Helper()
	salt, err := kdf.NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	keys, err := kdf.Derive(password, salt)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := dh.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := dh.EncodePublicKey(priv.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	wrapped, iv, err := keywrap.Wrap(priv, keys.EncryptionKey)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.StdEncoding.EncodeToString
	return model.RegisterRequest{
		Username:            username,
		Salt:                enc(salt),
		AuthKeyHash:         enc(keys.AuthKey),
		PublicKey:           pub,
		EncryptedPrivateKey: enc(wrapped),
		IV:                  enc(iv),
	}
}

// loginAs runs the two-step login and unwraps the private key.
func loginAs(t *testing.T, base, username, password string) (*identity, error) {
	t.Helper()
	var params model.LoginParamsResponse
	if code := postJSON(t, base+"/api/auth/login-params", model.LoginParamsRequest{Username: username}, &params); code != http.StatusOK {
		t.Fatalf("login-params: %d", code)
	}
	salt, _ := base64.StdEncoding.DecodeString(params.Salt)
	wrapped, _ := base64.StdEncoding.DecodeString(params.EncryptedPrivateKey)
	iv, _ := base64.StdEncoding.DecodeString(params.IV)

	keys, err := kdf.Derive(password, salt)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := keywrap.Unwrap(wrapped, iv, keys.EncryptionKey)
	if err != nil {
		return nil, err
	}

	var resp model.LoginResponse
	code := postJSON(t, base+"/api/auth/login", model.LoginRequest{
		Username:    username,
		AuthKeyHash: base64.StdEncoding.EncodeToString(keys.AuthKey),
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}
	return &identity{ID: resp.UserID, Username: resp.Username, PublicKey: resp.PublicKey, Private: priv}, nil
}

func signup(t *testing.T, base, username, password string) *identity {
	t.Helper()
	if code := postJSON(t, base+"/api/auth/register", registerRequest(t, username, password), nil); code != http.StatusCreated {
		t.Fatalf("register %s: %d", username, code)
	}
	id, err := loginAs(t, base, username, password)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return id
}

func dial(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := model.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// until reads frames until event arrives and returns it with everything seen before it.
func until(t *testing.T, ws *websocket.Conn, event string) (model.Envelope, []model.Envelope) {
	t.Helper()
	var skipped []model.Envelope
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v (seen %v)", event, err, skipped)
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if env.Event == event {
			return env, skipped
		}
		skipped = append(skipped, env)
	}
}

func decode[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
	return v
}

// join binds ws to id and waits until the server has processed it.
func join(t *testing.T, ws *websocket.Conn, id *identity) {
	t.Helper()
	send(t, ws, model.EventJoinUser, id.ID)
	send(t, ws, model.EventRequestPublicKey, model.RequestPublicKey{Username: id.Username})
	until(t, ws, model.EventResponsePublicKey)
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	req := registerRequest(t, "p1", "p1-secret")
	if code := postJSON(t, ts.URL+"/api/auth/register", req, nil); code != http.StatusCreated {
		t.Fatalf("register: %d", code)
	}
	if code := postJSON(t, ts.URL+"/api/auth/register", registerRequest(t, "p1", "other"), nil); code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", code)
	}
	bad := registerRequest(t, "p9", "x")
	bad.PublicKey = "bm90IGEga2V5"
	if code := postJSON(t, ts.URL+"/api/auth/register", bad, nil); code != http.StatusBadRequest {
		t.Fatalf("bad public key: %d", code)
	}

	id, err := loginAs(t, ts.URL, "p1", "p1-secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if id.PublicKey != req.PublicKey || id.ID == "" {
		t.Fatalf("login response: %+v", id)
	}

	if _, err := loginAs(t, ts.URL, "p1", "wrong"); !errors.Is(err, keywrap.ErrWrongPassphrase) {
		t.Fatalf("wrong password: got %v", err)
	}
	code := postJSON(t, ts.URL+"/api/auth/login", model.LoginRequest{Username: "p1", AuthKeyHash: "forged"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("forged auth key: %d", code)
	}
	if code := postJSON(t, ts.URL+"/api/auth/login-params", model.LoginParamsRequest{Username: "ghost"}, nil); code != http.StatusNotFound {
		t.Fatalf("unknown login-params: %d", code)
	}
}

func TestWS_FriendshipFlow(t *testing.T) {
	ts := newTestServer(t)
	p1 := signup(t, ts.URL, "p1", "pw1")
	p2 := signup(t, ts.URL, "p2", "pw2")

	ws1, ws2 := dial(t, ts.URL), dial(t, ts.URL)
	join(t, ws1, p1)
	join(t, ws2, p2)

	send(t, ws1, model.EventSendFriendRequest, model.SendFriendRequest{TargetUsername: "p2"})
	until(t, ws1, model.EventRequestSentSuccess)
	got := decode[model.ReceiveFriendRequest](t, mustEvent(t, ws2, model.EventReceiveFriendRequest))
	if got.FromID != p1.ID || got.FromUser != "p1" {
		t.Fatalf("receive_friend_request: %+v", got)
	}

	send(t, ws1, model.EventSendFriendRequest, model.SendFriendRequest{TargetUsername: "p2"})
	if msg := decode[string](t, mustEvent(t, ws1, model.EventError)); msg != "request already pending" {
		t.Fatalf("repeat request: %q", msg)
	}
	send(t, ws2, model.EventSendFriendRequest, model.SendFriendRequest{TargetUsername: "p1"})
	mustEvent(t, ws2, model.EventError)

	var reqs []model.FriendRequest
	getJSON(t, ts.URL+"/api/chat/requests/"+p2.ID, &reqs)
	if len(reqs) != 1 {
		t.Fatalf("pending requests: %+v", reqs)
	}

	send(t, ws2, model.EventAcceptFriendRequest, model.AcceptFriendRequest{RequesterID: p1.ID})
	hs := decode[model.StartHandshakeInit](t, mustEvent(t, ws2, model.EventStartHandshakeInit))
	if hs.TargetID != p1.ID || hs.TargetUsername != "p1" {
		t.Fatalf("start_handshake_init: %+v", hs)
	}
	acc := decode[model.RequestAccepted](t, mustEvent(t, ws1, model.EventRequestAccepted))
	if acc.AccepterID != p2.ID || acc.Notification == nil || acc.Notification.Content != "p2 accepted your friend request!" {
		t.Fatalf("request_accepted: %+v", acc)
	}

	send(t, ws2, model.EventAcceptFriendRequest, model.AcceptFriendRequest{RequesterID: p1.ID})
	if msg := decode[string](t, mustEvent(t, ws2, model.EventError)); msg != "no pending request to accept" {
		t.Fatalf("second accept: %q", msg)
	}

	var contacts []model.Contact
	getJSON(t, ts.URL+"/api/chat/contacts/"+p1.ID, &contacts)
	if len(contacts) != 1 || contacts[0].Username != "p2" || !contacts[0].Online {
		t.Fatalf("contacts: %+v", contacts)
	}

	var notifs []model.Notification
	getJSON(t, ts.URL+"/api/chat/notifications/"+p1.ID, &notifs)
	if len(notifs) != 1 || notifs[0].Type != model.NotificationFriendAccept {
		t.Fatalf("notifications: %+v", notifs)
	}
	send(t, ws1, model.EventClearNotification, model.ClearNotification{NotifID: notifs[0].ID})
	send(t, ws1, model.EventRequestPublicKey, model.RequestPublicKey{Username: "p1"})
	until(t, ws1, model.EventResponsePublicKey)
	getJSON(t, ts.URL+"/api/chat/notifications/"+p1.ID, &notifs)
	if len(notifs) != 0 {
		t.Fatalf("notification not cleared: %+v", notifs)
	}
}

func TestWS_OfflineMessageRecoveredFromHistory(t *testing.T) {
	ts := newTestServer(t)
	p1 := signup(t, ts.URL, "p1", "pw1")
	p2 := signup(t, ts.URL, "p2", "pw2")

	ws1 := dial(t, ts.URL)
	join(t, ws1, p1)

	send(t, ws1, model.EventRequestPublicKey, model.RequestPublicKey{Username: "p2"})
	peer := decode[model.ResponsePublicKey](t, mustEvent(t, ws1, model.EventResponsePublicKey))
	sess, err := handshake.NewSession(p1.Private, peer.UserID, peer.Username, peer.PublicKey)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ct, iv, err := sess.Encrypt("hello while you were away")
	if err != nil {
		t.Fatal(err)
	}
	send(t, ws1, model.EventSendMessage, model.SendMessage{SenderID: p1.ID, RecipientID: p2.ID, EncryptedContent: ct, IV: iv})

	// round trip so the send has been handled
	send(t, ws1, model.EventRequestPublicKey, model.RequestPublicKey{Username: "p1"})
	until(t, ws1, model.EventResponsePublicKey)

	ws2 := dial(t, ts.URL)
	send(t, ws2, model.EventJoinUser, p2.ID)
	send(t, ws2, model.EventRequestPublicKey, model.RequestPublicKey{Username: "p1"})
	back, before := until(t, ws2, model.EventResponsePublicKey)
	for _, env := range before {
		if env.Event == model.EventReceiveMessage {
			t.Fatal("offline message was pushed live on join")
		}
	}

	var hist []model.Message
	getJSON(t, ts.URL+"/api/chat/history/"+p2.ID+"/"+p1.ID+"?limit=50", &hist)
	if len(hist) != 1 || hist[0].Sender != p1.ID {
		t.Fatalf("history: %+v", hist)
	}

	resp := decode[model.ResponsePublicKey](t, back)
	recv, err := handshake.NewSession(p2.Private, resp.UserID, resp.Username, resp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := recv.Decrypt(hist[0].EncryptedContent, hist[0].IV)
	if err != nil || plain != "hello while you were away" {
		t.Fatalf("decrypt history: %q %v", plain, err)
	}
}

func TestWS_LiveDeliveryAndPresence(t *testing.T) {
	ts := newTestServer(t)
	p1 := signup(t, ts.URL, "p1", "pw1")
	p2 := signup(t, ts.URL, "p2", "pw2")

	ws1 := dial(t, ts.URL)
	join(t, ws1, p1)
	ws2 := dial(t, ts.URL)
	join(t, ws2, p2)

	st := decode[model.UserStatusChange](t, mustEvent(t, ws1, model.EventUserStatusChange))
	if st.UserID != p2.ID || st.Status != model.StatusOnline {
		t.Fatalf("status: %+v", st)
	}

	sess, _ := handshake.NewSession(p2.Private, p1.ID, p1.Username, p1.PublicKey)
	ct, iv, _ := sess.Encrypt("hi")
	send(t, ws2, model.EventSendMessage, model.SendMessage{SenderID: p2.ID, RecipientID: p1.ID, EncryptedContent: ct, IV: iv})
	msg := decode[model.ReceiveMessage](t, mustEvent(t, ws1, model.EventReceiveMessage))
	if msg.SenderID != p2.ID || msg.EncryptedContent != ct {
		t.Fatalf("receive_message: %+v", msg)
	}

	send(t, ws2, model.EventSendMessage, model.SendMessage{SenderID: p1.ID, RecipientID: p1.ID, EncryptedContent: ct, IV: iv})
	mustEvent(t, ws2, model.EventError)

	ws2.Close()
	st = decode[model.UserStatusChange](t, mustEvent(t, ws1, model.EventUserStatusChange))
	if st.UserID != p2.ID || st.Status != model.StatusOffline {
		t.Fatalf("offline status: %+v", st)
	}
}

func TestWS_RequiresJoin(t *testing.T) {
	ts := newTestServer(t)
	ws := dial(t, ts.URL)

	send(t, ws, model.EventRequestPublicKey, model.RequestPublicKey{Username: "anyone"})
	if msg := decode[string](t, mustEvent(t, ws, model.EventError)); msg != "join_user required" {
		t.Fatalf("before join: %q", msg)
	}
	send(t, ws, model.EventJoinUser, "does-not-exist")
	if msg := decode[string](t, mustEvent(t, ws, model.EventError)); msg != "user not found" {
		t.Fatalf("unknown join: %q", msg)
	}
}

func TestWS_UsernameLookupsIgnorePadding(t *testing.T) {
	ts := newTestServer(t)
	p1 := signup(t, ts.URL, "p1", "p1-secret")
	p2 := signup(t, ts.URL, "p2", "p2-secret")

	ws := dial(t, ts.URL)
	join(t, ws, p1)

	send(t, ws, model.EventRequestPublicKey, model.RequestPublicKey{Username: "  p2 "})
	key := decode[model.ResponsePublicKey](t, mustEvent(t, ws, model.EventResponsePublicKey))
	if key.UserID != p2.ID || key.Username != "p2" {
		t.Fatalf("padded key lookup: %+v", key)
	}

	send(t, ws, model.EventSendFriendRequest, model.SendFriendRequest{TargetUsername: "p2\t"})
	if msg := decode[string](t, mustEvent(t, ws, model.EventRequestSentSuccess)); msg != "friend request sent to p2" {
		t.Fatalf("padded friend request: %q", msg)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func mustEvent(t *testing.T, ws *websocket.Conn, event string) model.Envelope {
	t.Helper()
	env, _ := until(t, ws, event)
	return env
}
