package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"secure_chat/internal/config"
	"secure_chat/internal/hub"
	"secure_chat/internal/model"
	"secure_chat/internal/presence"
	"secure_chat/internal/repository"
	"secure_chat/internal/service/friendship"
	"secure_chat/internal/service/relay"
	"secure_chat/internal/utils/log"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const internalError = "internal server error"

type (
	HttpServer struct {
		cfg   *config.Config
		store *repository.Store

		hub         *hub.Hub
		presence    *presence.Tracker
		friendships *friendship.Service
		relay       *relay.Router
	}
)

// NewHttpServer wires the connection hub, presence tracker and domain services
// around store. cache may be nil.
func NewHttpServer(cfg *config.Config, store *repository.Store, cache relay.Cache) *HttpServer {
	s := &HttpServer{
		cfg:   cfg,
		store: store,
	}
	s.presence = presence.NewTracker(s.broadcastStatus)
	s.hub = hub.New(hub.WithPresence(s.presence))
	s.friendships = friendship.NewService(store, s.hub, s.presence)

	var opts []relay.Option
	if cache != nil {
		opts = append(opts, relay.WithCache(cache))
	}
	s.relay = relay.NewRouter(store.Messages, s.hub, opts...)
	return s
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.Health()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/register", s.Register()).Methods(http.MethodPost)
	auth.HandleFunc("/login-params", s.LoginParams()).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.Login()).Methods(http.MethodPost)

	chat := r.PathPrefix("/api/chat").Subrouter()
	chat.HandleFunc("/history/{user1}/{user2}", s.History()).Methods(http.MethodGet)
	chat.HandleFunc("/contacts/{userId}", s.Contacts()).Methods(http.MethodGet)
	chat.HandleFunc("/requests/{userId}", s.FriendRequests()).Methods(http.MethodGet)
	chat.HandleFunc("/notifications/{userId}", s.Notifications()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(r)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	log.Info("server shutting down", zap.Int("online", len(s.presence.Online())))
	return srv.Shutdown(shutdownCtx)
}

func (s *HttpServer) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *HttpServer) broadcastStatus(userID string, online bool) {
	status := model.StatusOffline
	if online {
		status = model.StatusOnline
	}
	if err := s.hub.BroadcastExcept(userID, model.EventUserStatusChange, model.UserStatusChange{
		UserID: userID,
		Status: status,
	}); err != nil {
		log.Error("broadcast status failed", zap.String("user", userID), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &model.MessageResponse{Message: msg})
}
