package helplingsdk

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
)

// Client is a minimal Helpling HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// UserID is sent as X-User-Id when no other credential is set. Servers only
	// honour it with allow_user_header enabled.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is an offer or a request.
type Item struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	UserID      string  `json:"userId,omitempty"`
	HelplingID  *string `json:"helplingId,omitempty"`
	Status      string  `json:"status"`
	ThreadID    *string `json:"threadId,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	User        *User   `json:"user,omitempty"`
}

type Comment struct {
	ID        string `json:"id"`
	ItemID    string `json:"itemId,omitempty"`
	ItemType  string `json:"itemType,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
	User      *User  `json:"user,omitempty"`
}

type Message struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	UserID    string `json:"userId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

type Thread struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	ItemType  string    `json:"itemType"`
	UserIDs   []string  `json:"userIds"`
	Last      string    `json:"last"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// FetchedItem is the public read model of one item.
type FetchedItem struct {
	Item     Item
	Comments []Comment
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Accept accepts an offer or request and returns the id of the new thread.
func (c *Client) Accept(ctx context.Context, kind, id string) (string, error) {
	var resp struct {
		ThreadID string `json:"threadId"`
	}
	err := c.do(ctx, http.MethodPost, c.apiPath("rpc/accept"), map[string]string{"id": id, "kind": kind}, &resp)
	return resp.ThreadID, err
}

// Complete marks an accepted item completed.
func (c *Client) Complete(ctx context.Context, kind, id string) error {
	return c.do(ctx, http.MethodPost, c.apiPath("rpc/complete"), map[string]string{"id": id, "kind": kind}, nil)
}

// FetchRequest reads an item with its comments through the public fetch endpoint.
func (c *Client) FetchRequest(ctx context.Context, kind, id string) (FetchedItem, error) {
	q := url.Values{"id": {id}, "kind": {kind}}
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.apiPath("fetchRequest")+"?"+q.Encode(), nil, &raw); err != nil {
		return FetchedItem{}, err
	}
	var res FetchedItem
	if b, ok := raw[kind]; ok {
		if err := json.Unmarshal(b, &res.Item); err != nil {
			return FetchedItem{}, err
		}
	}
	if b, ok := raw["comments"]; ok {
		if err := json.Unmarshal(b, &res.Comments); err != nil {
			return FetchedItem{}, err
		}
	}
	return res, nil
}

// UpsertUser creates or renames the calling user.
func (c *Client) UpsertUser(ctx context.Context, name string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, c.apiPath("users"), map[string]string{"name": name}, &resp)
	return resp, err
}

// CreateItem posts an offer or a request.
func (c *Client) CreateItem(ctx context.Context, kind, title, description string) (Item, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, c.apiPath("items/"+url.PathEscape(kind)), body, &resp)
	return resp, err
}

// ListItems lists items of one kind; status may be empty.
func (c *Client) ListItems(ctx context.Context, kind, status string, limit int) ([]Item, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.apiPath("items/" + url.PathEscape(kind))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Item
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteItem removes an item created by the caller.
func (c *Client) DeleteItem(ctx context.Context, kind, id string) error {
	endpoint := c.apiPath(fmt.Sprintf("items/%s/%s", url.PathEscape(kind), url.PathEscape(id)))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// AddComment comments on an item.
func (c *Client) AddComment(ctx context.Context, kind, id, body string) (Comment, error) {
	var resp Comment
	endpoint := c.apiPath(fmt.Sprintf("items/%s/%s/comments", url.PathEscape(kind), url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"body": body}, &resp)
	return resp, err
}

// Thread reads a thread the caller participates in.
func (c *Client) Thread(ctx context.Context, threadID string) (Thread, error) {
	var resp Thread
	err := c.do(ctx, http.MethodGet, c.apiPath("threads/"+url.PathEscape(threadID)), nil, &resp)
	return resp, err
}

// SendMessage posts to a thread.
func (c *Client) SendMessage(ctx context.Context, threadID, body string) (Message, error) {
	var resp Message
	endpoint := c.apiPath(fmt.Sprintf("threads/%s/messages", url.PathEscape(threadID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"body": body}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// decodeAPIError understands both the {"error":{code,message}} envelope and the
// flat {"error":"..."} body of the fetch endpoint.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		return apiErr
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(env.Error, &obj) == nil {
		apiErr.Code, apiErr.Message = obj.Code, obj.Message
		return apiErr
	}
	_ = json.Unmarshal(env.Error, &apiErr.Message)
	return apiErr
}

func (c *Client) apiPath(p string) string {
	return strings.TrimRight(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
