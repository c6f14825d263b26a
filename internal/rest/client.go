// Package rest talks to the chat server's HTTP API. The websocket channel
// only pushes live events; history, groups and the social graph are served
// over REST.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// Client is a bearer-authenticated HTTP client for the chat API.
// Safe for concurrent use; the token may be swapped at runtime.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken swaps the bearer token. Called on credential rotation so REST
// and socket auth stay in step.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

// DirectMessages fetches the stored one-to-one history with the given peer.
func (c *Client) DirectMessages(ctx context.Context, withID string) ([]DirectMessageRecord, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/direct-messages", nil, map[string]string{"with": withID})
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]DirectMessageRecord](data)
}

// MyGroups lists the groups the authenticated user belongs to.
func (c *Client) MyGroups(ctx context.Context) ([]Group, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/groups/mine", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]Group](data)
}

// Group fetches a single group with its member roster.
func (c *Client) Group(ctx context.Context, id int64) (Group, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/groups/"+strconv.FormatInt(id, 10), nil, nil)
	if err != nil {
		return Group{}, err
	}
	return decodeJSON[Group](data)
}

// CreateGroup creates a group with the given member usernames.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (Group, error) {
	payload := map[string]interface{}{"name": name, "members": members}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/groups", payload, nil)
	if err != nil {
		return Group{}, err
	}
	return decodeJSON[Group](data)
}

// Friends lists the confirmed social graph.
func (c *Client) Friends(ctx context.Context) ([]User, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/friends", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]User](data)
}

// IncomingFriendRequests lists requests waiting on the authenticated user.
func (c *Client) IncomingFriendRequests(ctx context.Context) ([]FriendRequestRecord, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/friends/requests/incoming", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]FriendRequestRecord](data)
}

// SendFriendRequest asks to connect with the given user.
func (c *Client) SendFriendRequest(ctx context.Context, username string) error {
	payload := map[string]string{"username": username}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/friends/requests", payload, nil)
	return err
}

// AcceptFriendRequest accepts a pending incoming request.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID int64) error {
	payload := map[string]string{"status": "accepted"}
	_, err := c.doRequest(ctx, http.MethodPut, "/v1/friends/requests/"+strconv.FormatInt(requestID, 10), payload, nil)
	return err
}

// SearchUsers finds users by partial username or email.
func (c *Client) SearchUsers(ctx context.Context, username, email string) ([]User, error) {
	query := map[string]string{}
	if username != "" {
		query["username"] = username
	}
	if email != "" {
		query["email"] = email
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/users/search", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]User](data)
}

// Profile returns the authenticated user's own record.
func (c *Client) Profile(ctx context.Context) (User, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/users/profile", nil, nil)
	if err != nil {
		return User{}, err
	}
	return decodeJSON[User](data)
}
