package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"secure_chat/internal/model"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

type (
	// APIClient talks to the relay's HTTP surface.
	APIClient struct {
		base *url.URL
		http *http.Client
	}

	HTTPError struct {
		Status  int
		Message string
	}
)

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

func NewAPIClient(serverURL string) (*APIClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &APIClient{
		base: u,
		http: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// EventsURL is the WebSocket endpoint matching the HTTP base.
func (c *APIClient) EventsURL() string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String()
}

func (c *APIClient) Register(ctx context.Context, req *model.RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/api/auth/register", req, nil)
}

func (c *APIClient) LoginParams(ctx context.Context, username string) (*model.LoginParamsResponse, error) {
	var resp model.LoginParamsResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login-params", &model.LoginParamsRequest{Username: username}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) History(ctx context.Context, a, b string, limit int) ([]*model.Message, error) {
	path := fmt.Sprintf("/api/chat/history/%s/%s", url.PathEscape(a), url.PathEscape(b))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []*model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *APIClient) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	var out []model.Contact
	err := c.do(ctx, http.MethodGet, "/api/chat/contacts/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *APIClient) FriendRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	var out []model.FriendRequest
	err := c.do(ctx, http.MethodGet, "/api/chat/requests/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *APIClient) Notifications(ctx context.Context, userID string) ([]model.Notification, error) {
	var out []model.Notification
	err := c.do(ctx, http.MethodGet, "/api/chat/notifications/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		var msg model.MessageResponse
		json.NewDecoder(resp.Body).Decode(&msg)
		return &HTTPError{Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
