// Package apiClient is a typed client for the apiServer routes.
package apiClient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i5heu/cipherroom/pkg/envelope"
	"github.com/i5heu/cipherroom/pkg/identityStore"
	"github.com/i5heu/cipherroom/pkg/model"
)

// ErrNotFound is returned for 404 responses that have no more specific
// mapping.
var ErrNotFound = errors.New("apiClient: not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiClient: status %d: %s", e.Code, e.Body)
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

type LoginResult struct {
	User
	Backup *identityStore.Backup `json:"backup,omitempty"`
}

type RoomInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CreatorUsername string    `json:"creatorUsername"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at base, e.g. http://localhost:4242.
func New(base string, hc *http.Client) *Client { // A
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// WebsocketURL is the relay endpoint of the server.
func (c *Client) WebsocketURL() string {
	u := c.base + "/ws"
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// Origin is the origin the websocket handshake announces.
func (c *Client) Origin() string { return c.base + "/" }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiClient: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("apiClient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiClient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiClient: decode response: %w", err)
	}
	return nil
}

// mapStatus turns status errors into the package errors callers check for.
func mapStatus(err error, byCode map[int]error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	if mapped, ok := byCode[se.Code]; ok {
		return fmt.Errorf("%w: %s", mapped, se.Body)
	}
	if se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, se.Body)
	}
	return err
}

// Register creates an account. backup may be nil.
func (c *Client) Register(ctx context.Context, username, password, publicKeyJWK string, backup *identityStore.Backup) (User, error) { // A
	var u User
	err := c.do(ctx, http.MethodPost, "/users", map[string]any{
		"username":  username,
		"password":  password,
		"publicKey": publicKeyJWK,
		"backup":    backup,
	}, &u)
	return u, mapStatus(err, map[int]error{http.StatusConflict: model.ErrUserExists})
}

// Login checks the credentials and returns the stored identity backup.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) { // A
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": password,
	}, &res)
	return res, mapStatus(err, map[int]error{http.StatusUnauthorized: model.ErrInvalidCredentials})
}

// PublicKey fetches a user's public key JWK.
func (c *Client) PublicKey(ctx context.Context, username string) (string, error) { // A
	var u User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username)+"/publicKey", nil, &u)
	if err != nil {
		return "", mapStatus(err, map[int]error{http.StatusNotFound: model.ErrUserNotFound})
	}
	return u.PublicKey, nil
}

// CreateRoom stores a room with its password envelope.
func (c *Client) CreateRoom(ctx context.Context, name, creator, password string, env envelope.PasswordEnvelope) (RoomInfo, error) { // A
	var r RoomInfo
	err := c.do(ctx, http.MethodPost, "/rooms", map[string]string{
		"name":            name,
		"creatorUsername": creator,
		"password":        password,
		"salt":            env.Salt,
		"wrappedKey":      env.WrappedKey,
	}, &r)
	return r, mapStatus(err, nil)
}

// Room fetches public room info.
func (c *Client) Room(ctx context.Context, id string) (RoomInfo, error) { // A
	var r RoomInfo
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(id), nil, &r)
	return r, mapStatus(err, map[int]error{http.StatusNotFound: model.ErrRoomNotFound})
}

// JoinRoom returns the room's password envelope. A wrong password yields
// envelope.ErrInvalidPassword.
func (c *Client) JoinRoom(ctx context.Context, roomID, username, password string) (envelope.PasswordEnvelope, error) { // A
	var env envelope.PasswordEnvelope
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/join", map[string]string{
		"username": username,
		"password": password,
	}, &env)
	return env, mapStatus(err, map[int]error{
		http.StatusUnauthorized: envelope.ErrInvalidPassword,
		http.StatusNotFound:     model.ErrRoomNotFound,
	})
}

// Invite stores an invite envelope for another user. The room password
// authorizes it; an existing invite is never replaced.
func (c *Client) Invite(ctx context.Context, roomID, roomPassword string, env envelope.PublicKeyEnvelope) error { // A
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/invites", map[string]string{
		"roomPassword": roomPassword,
		"username":     env.RecipientUsername,
		"wrappedKey":   env.WrappedKey,
	}, nil)
	return mapStatus(err, map[int]error{
		http.StatusUnauthorized: envelope.ErrInvalidPassword,
		http.StatusConflict:     model.ErrInviteExists,
	})
}

// InviteFor fetches the invite addressed to username.
func (c *Client) InviteFor(ctx context.Context, roomID, username string) (envelope.PublicKeyEnvelope, error) { // A
	var env envelope.PublicKeyEnvelope
	err := c.do(ctx, http.MethodGet,
		"/rooms/"+url.PathEscape(roomID)+"/invites/"+url.PathEscape(username), nil, &env)
	return env, mapStatus(err, nil)
}
