package domain

import "fmt"

// Kind discriminates the two item collections.
type Kind string

const (
	KindOffer   Kind = "offer"
	KindRequest Kind = "request"
)

// ParseKind accepts only the two known kinds.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOffer:
		return KindOffer, nil
	case KindRequest:
		return KindRequest, nil
	}
	return "", fmt.Errorf("invalid kind %q; want offer or request", s)
}

// Collection returns the table (and deeplink path segment) backing the kind.
func (k Kind) Collection() string {
	switch k {
	case KindOffer:
		return "offers"
	case KindRequest:
		return "requests"
	}
	panic(fmt.Sprintf("domain: unknown kind %q", string(k)))
}

// Title is the capitalized kind, used in user-facing messages.
func (k Kind) Title() string {
	switch k {
	case KindOffer:
		return "Offer"
	case KindRequest:
		return "Request"
	}
	return string(k)
}

func (k Kind) Valid() bool {
	return k == KindOffer || k == KindRequest
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
)

type Item struct {
	ID          string  `json:"id" db:"id"`
	Kind        Kind    `json:"kind" db:"kind"`
	UserID      string  `json:"userId" db:"user_id"`
	HelplingID  *string `json:"helplingId,omitempty" db:"helpling_id"`
	Status      Status  `json:"status" db:"status" enum:"pending,accepted,completed"`
	ThreadID    *string `json:"threadId,omitempty" db:"thread_id"`
	Title       string  `json:"title" db:"title"`
	Description string  `json:"description,omitempty" db:"description"`
	CreatedAt   string  `json:"createdAt" db:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updatedAt" db:"updated_at" format:"date-time"`
}

// IsParticipant reports whether userID is the creator or the helpling.
func (i Item) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == i.UserID || (i.HelplingID != nil && *i.HelplingID == userID)
}

// Counterpart returns the participant that is not userID, or "" when there is none.
func (i Item) Counterpart(userID string) string {
	switch {
	case userID == i.UserID && i.HelplingID != nil:
		return *i.HelplingID
	case i.HelplingID != nil && userID == *i.HelplingID:
		return i.UserID
	}
	return ""
}

type Thread struct {
	ID        string   `json:"id"`
	ItemID    string   `json:"itemId"`
	ItemType  Kind     `json:"itemType"`
	UserIDs   []string `json:"userIds"`
	Last      string   `json:"last,omitempty"`
	CreatedAt string   `json:"createdAt" format:"date-time"`
	UpdatedAt string   `json:"updatedAt" format:"date-time"`
}

func (t Thread) HasParticipant(userID string) bool {
	for _, id := range t.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID. It returns "" when userID is not
// a participant or the pair is malformed.
func (t Thread) Other(userID string) string {
	if len(t.UserIDs) != 2 || !t.HasParticipant(userID) {
		return ""
	}
	if t.UserIDs[0] == userID {
		return t.UserIDs[1]
	}
	return t.UserIDs[0]
}

type Comment struct {
	ID        string `json:"id" db:"id"`
	ItemID    string `json:"itemId" db:"item_id"`
	ItemType  Kind   `json:"itemType" db:"item_type"`
	UserID    string `json:"userId" db:"user_id"`
	Body      string `json:"body" db:"body"`
	CreatedAt string `json:"createdAt" db:"created_at" format:"date-time"`
}

type Message struct {
	ID        string `json:"id" db:"id"`
	ThreadID  string `json:"threadId" db:"thread_id"`
	UserID    string `json:"userId" db:"user_id"`
	Body      string `json:"body" db:"body"`
	CreatedAt string `json:"createdAt" db:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	CreatedAt string `json:"createdAt,omitempty" db:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"key_hash" db:"key_hash"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id" db:"id"`
	TS         string `json:"ts" db:"ts" format:"date-time"`
	Type       string `json:"type" db:"type"`
	EntityKind string `json:"entity_kind" db:"entity_kind"`
	EntityID   string `json:"entity_id" db:"entity_id"`
	ActorID    string `json:"actor_id" db:"actor_id"`
	Payload    string `json:"payload_json" db:"payload_json"`
}

// Event types appended by store mutations.
const (
	EventItemCreated    = "item.created"
	EventItemAccepted   = "item.accepted"
	EventItemCompleted  = "item.completed"
	EventItemDeleted    = "item.deleted"
	EventCommentCreated = "comment.created"
	EventMessageCreated = "message.created"
)
