package server

import (
	"helpling/internal/domain"
	"helpling/internal/engine"
)

// Request payloads

// RPCRequest addresses one item. Both fields are checked by the handler so that an
// unauthenticated caller is rejected before its arguments are.
type RPCRequest struct {
	ID   string `json:"id,omitempty" doc:"Item id"`
	Kind string `json:"kind,omitempty" enum:"offer,request" doc:"Item kind"`
}

type UpsertUserRequest struct {
	Name string `json:"name" minLength:"1"`
}

type CreateItemRequest struct {
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty"`
}

type PostBodyRequest struct {
	Body string `json:"body" minLength:"1"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type AcceptResponse struct {
	ThreadID string `json:"threadId"`
}

type EmptyResponse struct{}

type UserResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ItemResponse struct {
	ID          string        `json:"id"`
	Kind        domain.Kind   `json:"kind" enum:"offer,request"`
	UserID      string        `json:"userId,omitempty"`
	HelplingID  *string       `json:"helplingId,omitempty"`
	Status      domain.Status `json:"status" enum:"pending,accepted,completed"`
	ThreadID    *string       `json:"threadId,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	CreatedAt   string        `json:"createdAt" format:"date-time"`
	UpdatedAt   string        `json:"updatedAt" format:"date-time"`
	User        *UserResponse `json:"user,omitempty"`
}

type CommentResponse struct {
	ID        string        `json:"id"`
	ItemID    string        `json:"itemId,omitempty"`
	ItemType  domain.Kind   `json:"itemType,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	Body      string        `json:"body"`
	CreatedAt string        `json:"createdAt" format:"date-time"`
	User      *UserResponse `json:"user,omitempty"`
}

type MessageResponse struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	UserID    string `json:"userId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type ThreadResponse struct {
	ID        string            `json:"id"`
	ItemID    string            `json:"itemId"`
	ItemType  domain.Kind       `json:"itemType"`
	UserIDs   []string          `json:"userIds"`
	Last      string            `json:"last"`
	CreatedAt string            `json:"createdAt" format:"date-time"`
	UpdatedAt string            `json:"updatedAt" format:"date-time"`
	Messages  []MessageResponse `json:"messages"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func userResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{ID: u.ID, Name: u.Name}
}

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		Kind:        it.Kind,
		UserID:      it.UserID,
		HelplingID:  it.HelplingID,
		Status:      it.Status,
		ThreadID:    it.ThreadID,
		Title:       it.Title,
		Description: it.Description,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		ItemID:    c.ItemID,
		ItemType:  c.ItemType,
		UserID:    c.UserID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}

func messageResponse(m domain.Message) MessageResponse {
	return MessageResponse{ID: m.ID, ThreadID: m.ThreadID, UserID: m.UserID, Body: m.Body, CreatedAt: m.CreatedAt}
}

func threadResponse(v engine.ThreadView) ThreadResponse {
	res := ThreadResponse{
		ID:        v.Thread.ID,
		ItemID:    v.Thread.ItemID,
		ItemType:  v.Thread.ItemType,
		UserIDs:   nonNilSlice(v.Thread.UserIDs),
		Last:      v.Thread.Last,
		CreatedAt: v.Thread.CreatedAt,
		UpdatedAt: v.Thread.UpdatedAt,
		Messages:  make([]MessageResponse, 0, len(v.Messages)),
	}
	for _, m := range v.Messages {
		res.Messages = append(res.Messages, messageResponse(m))
	}
	return res
}

// fetchPayload shapes the public read model: owner ids are replaced by embedded
// users and comments lose their back references.
func fetchPayload(v engine.ItemView) map[string]any {
	item := itemResponse(v.Item)
	item.UserID = ""
	item.User = userResponse(v.User)
	comments := make([]CommentResponse, 0, len(v.Comments))
	for _, cv := range v.Comments {
		c := commentResponse(cv.Comment)
		c.ItemID, c.ItemType, c.UserID = "", "", ""
		c.User = userResponse(cv.User)
		comments = append(comments, c)
	}
	return map[string]any{
		string(v.Item.Kind): item,
		"comments":          comments,
	}
}

func mapItems(items []domain.Item) []ItemResponse {
	res := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		res = append(res, itemResponse(it))
	}
	return res
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
