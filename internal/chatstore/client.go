// Package chatstore is the REST client for the chat store service that
// owns conversation persistence. The sync core consumes it through the
// chat.Store interface; failed calls are never retried here, the caller
// surfaces them with a manual-retry affordance.
package chatstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/chat"
	"github.com/jagjeet027/FurniMart-sub002/internal/config"
)

// FetchError is a failed chat store call. It is recoverable: existing
// in-memory conversation state is left untouched.
type FetchError struct {
	Op         string
	StatusCode int // 0 when the request never completed
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat store %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("chat store %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the chat store over HTTP. It implements chat.Store.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a chat store client from config.
func New(cfg config.ChatStoreConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc}
}

// Rooms lists the rooms the participant takes part in.
// GET /rooms?participant={id}
func (c *Client) Rooms(ctx context.Context, participantID string) ([]chat.Room, error) {
	u := c.baseURL + "/rooms?participant=" + url.QueryEscape(participantID)
	var rooms []chat.Room
	if err := c.getJSON(ctx, "rooms", u, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages fetches the full message snapshot for a room.
// GET /rooms/{roomId}/messages
func (c *Client) Messages(ctx context.Context, roomID string) ([]chat.Message, error) {
	u := c.baseURL + "/rooms/" + url.PathEscape(roomID) + "/messages"
	var msgs []chat.Message
	if err := c.getJSON(ctx, "messages", u, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a message and returns the server-confirmed form.
// POST /rooms/{roomId}/messages
func (c *Client) SendMessage(ctx context.Context, roomID string, sender chat.Sender, content string) (chat.Message, error) {
	body, err := json.Marshal(map[string]any{
		"senderId":   sender.ID,
		"senderRole": sender.Role,
		"content":    content,
	})
	if err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}

	u := c.baseURL + "/rooms/" + url.PathEscape(roomID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return chat.Message{}, &FetchError{Op: "send", StatusCode: resp.StatusCode}
	}

	var msg chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}
	return msg, nil
}

// MarkRead acknowledges one batched read receipt for a room.
// POST /rooms/{roomId}/read
func (c *Client) MarkRead(ctx context.Context, roomID, participantID string) error {
	body, _ := json.Marshal(map[string]string{"participantId": participantID})
	u := c.baseURL + "/rooms/" + url.PathEscape(roomID) + "/read"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return &FetchError{Op: "mark-read", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: "mark-read", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return &FetchError{Op: "mark-read", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &FetchError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Err: err}
	}
	return nil
}

// guard against accidental interface drift
var _ chat.Store = (*Client)(nil)

// default request timeout used when callers pass a zero config
const defaultTimeout = 15 * time.Second
