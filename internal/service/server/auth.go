package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"secure_chat/internal/cryptographic/dh"
	"secure_chat/internal/cryptographic/encryption"
	"secure_chat/internal/cryptographic/kdf"
	"secure_chat/internal/model"
	"secure_chat/internal/repository"
	"secure_chat/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const maxUsernameLen = 32

// Register stores the client-produced identity. The server never sees the
// password; it bcrypt-hashes the derived auth key.
func (s *HttpServer) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Username = model.NormalizeUsername(req.Username)
		if err := validateRegister(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.AuthKeyHash), s.cfg.BcryptCost)
		if err != nil {
			log.Error("hash auth key failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, internalError)
			return
		}

		user := &model.User{
			Username:          req.Username,
			Salt:              req.Salt,
			AuthKeyHash:       string(hash),
			PublicKey:         req.PublicKey,
			WrappedPrivateKey: req.EncryptedPrivateKey,
			WrapIV:            req.IV,
		}
		if _, err := s.store.Users.Create(r.Context(), user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				writeMessage(w, http.StatusConflict, "username already exists")
				return
			}
			log.Error("create user failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, internalError)
			return
		}

		log.Info("user registered", zap.String("user", user.ID), zap.String("username", user.Username))
		writeMessage(w, http.StatusCreated, "registered, please log in")
	}
}

func (s *HttpServer) LoginParams() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.LoginParamsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := s.store.Users.GetByName(r.Context(), model.NormalizeUsername(req.Username))
		if err != nil {
			log.Error("lookup user failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, internalError)
			return
		}
		if user == nil {
			writeMessage(w, http.StatusNotFound, "user not found")
			return
		}

		writeJSON(w, http.StatusOK, &model.LoginParamsResponse{
			Salt:                user.Salt,
			EncryptedPrivateKey: user.WrappedPrivateKey,
			IV:                  user.WrapIV,
		})
	}
}

func (s *HttpServer) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := s.store.Users.GetByName(r.Context(), model.NormalizeUsername(req.Username))
		if err != nil {
			log.Error("lookup user failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, internalError)
			return
		}
		if user == nil || bcrypt.CompareHashAndPassword([]byte(user.AuthKeyHash), []byte(req.AuthKeyHash)) != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		writeJSON(w, http.StatusOK, &model.LoginResponse{
			Message:   "login successful",
			UserID:    user.ID,
			Username:  user.Username,
			PublicKey: user.PublicKey,
		})
	}
}

func validateRegister(req *model.RegisterRequest) error {
	if req.Username == "" || len(req.Username) > maxUsernameLen || strings.ContainsAny(req.Username, " \t\r\n/") {
		return errors.New("invalid username")
	}
	if salt, err := base64.StdEncoding.DecodeString(req.Salt); err != nil || len(salt) != kdf.SaltSize {
		return errors.New("invalid salt")
	}
	if req.AuthKeyHash == "" || len(req.AuthKeyHash) > 72 {
		return errors.New("invalid auth key")
	}
	if _, err := dh.DecodePublicKey(req.PublicKey); err != nil {
		return errors.New("invalid public key")
	}
	if wrapped, err := base64.StdEncoding.DecodeString(req.EncryptedPrivateKey); err != nil || len(wrapped) == 0 {
		return errors.New("invalid wrapped private key")
	}
	if iv, err := base64.StdEncoding.DecodeString(req.IV); err != nil || len(iv) != encryption.NonceSize {
		return errors.New("invalid iv")
	}
	return nil
}
