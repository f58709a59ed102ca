package server

import (
	"net/http"
	"strconv"

	"secure_chat/internal/model"
	"secure_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func (s *HttpServer) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeMessage(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		msgs, err := s.relay.History(r.Context(), vars["user1"], vars["user2"], limit)
		if err != nil {
			log.Error("load history failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, internalError)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func (s *HttpServer) Contacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := s.friendships.Contacts(r.Context(), mux.Vars(r)["userId"])
		if err != nil {
			log.Error("load contacts failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, []model.Contact{})
			return
		}
		writeJSON(w, http.StatusOK, contacts)
	}
}

func (s *HttpServer) FriendRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := s.friendships.PendingRequests(r.Context(), mux.Vars(r)["userId"])
		if err != nil {
			log.Error("load friend requests failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, []model.FriendRequest{})
			return
		}
		writeJSON(w, http.StatusOK, reqs)
	}
}

func (s *HttpServer) Notifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notifs, err := s.store.Notifications.List(r.Context(), mux.Vars(r)["userId"])
		if err != nil {
			log.Error("load notifications failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, []model.Notification{})
			return
		}
		writeJSON(w, http.StatusOK, notifs)
	}
}
