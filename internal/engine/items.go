package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
	"helpling/internal/engine/auth"
	"helpling/internal/events"
	"helpling/internal/repo"
)

func (e Engine) CreateUser(ctx context.Context, id, name string) (domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, newError(CodeInvalidArgument, "User id is required.")
	}
	u := domain.User{ID: id, Name: strings.TrimSpace(name), CreatedAt: e.timestamp()}
	if err := e.Repo.InsertUser(ctx, nil, u); err != nil {
		return domain.User{}, dependency("create user", err)
	}
	return u, nil
}

const apiKeyPrefix = "hl_"

// IssueAPIKey stores a new key for userID and returns the plaintext once.
func (e Engine) IssueAPIKey(ctx context.Context, userID, name string) (string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); errors.Is(err, repo.ErrNotFound) {
		return "", newError(CodeNotFound, "User %s not found.", userID)
	} else if err != nil {
		return "", dependency("issue api key", err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", dependency("issue api key", err)
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(buf)
	err := e.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
		ID:        e.newID(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.timestamp(),
	})
	if err != nil {
		return "", dependency("issue api key", err)
	}
	return plaintext, nil
}

type CreateItemOptions struct {
	Kind        domain.Kind
	Title       string
	Description string
	ActorID     string
}

func (e Engine) CreateItem(ctx context.Context, opts CreateItemOptions) (domain.Item, error) {
	actorID := auth.Subject(opts.ActorID)
	if actorID == "" {
		return domain.Item{}, ErrUnauthenticated
	}
	if !opts.Kind.Valid() {
		return domain.Item{}, newError(CodeInvalidArgument, "Unknown kind %q.", string(opts.Kind))
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Item{}, newError(CodeInvalidArgument, "Title is required.")
	}
	now := e.timestamp()
	item := domain.Item{
		ID:          e.newID(),
		Kind:        opts.Kind,
		UserID:      actorID,
		Status:      domain.StatusPending,
		Title:       title,
		Description: strings.TrimSpace(opts.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.InsertItem(ctx, tx, item); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, domain.EventItemCreated, string(item.Kind), item.ID, actorID, events.Payload{"title": item.Title})
	})
	if err != nil {
		return domain.Item{}, dependency("create "+string(opts.Kind), err)
	}
	return item, nil
}

// DeletedItem is the payload of an item.deleted event.
type DeletedItem struct {
	Kind     domain.Kind `json:"kind"`
	ID       string      `json:"id"`
	ThreadID string      `json:"thread_id,omitempty"`
}

// DeleteItem removes the item row. Dependent comments and threads are removed
// asynchronously by the cleanup hook reacting to item.deleted.
func (e Engine) DeleteItem(ctx context.Context, kind domain.Kind, id, actorID string) error {
	actorID = auth.Subject(actorID)
	if actorID == "" {
		return ErrUnauthenticated
	}
	item, err := e.loadItem(ctx, kind, id)
	if err != nil {
		return err
	}
	if err := auth.CanDelete(item, actorID); err != nil {
		return forbidden(err)
	}
	payload := DeletedItem{Kind: kind, ID: item.ID}
	if item.ThreadID != nil {
		payload.ThreadID = *item.ThreadID
	}
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.DeleteItem(ctx, tx, kind, item.ID); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, domain.EventItemDeleted, string(kind), item.ID, actorID, payload)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return newError(CodeNotFound, "%s not found.", kind.Title())
	}
	if err != nil {
		return dependency("delete "+string(kind), err)
	}
	e.Log.Info().Str("kind", string(kind)).Str("item", item.ID).Str("actor", actorID).Msg("item deleted")
	return nil
}

func (e Engine) AddComment(ctx context.Context, kind domain.Kind, itemID, actorID, body string) (domain.Comment, error) {
	actorID = auth.Subject(actorID)
	if actorID == "" {
		return domain.Comment{}, ErrUnauthenticated
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Comment{}, newError(CodeInvalidArgument, "Comment body is required.")
	}
	item, err := e.loadItem(ctx, kind, itemID)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        e.newID(),
		ItemID:    item.ID,
		ItemType:  kind,
		UserID:    actorID,
		Body:      body,
		CreatedAt: e.timestamp(),
	}
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		// The item may have been deleted since it was loaded; a comment written
		// after its cleanup ran would never be removed.
		if _, err := e.Repo.GetItemTx(ctx, tx, kind, item.ID); errors.Is(err, repo.ErrNotFound) {
			return newError(CodeNotFound, "%s not found.", kind.Title())
		} else if err != nil {
			return err
		}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, domain.EventCommentCreated, "comment", c.ID, actorID, c)
	})
	if err != nil {
		return domain.Comment{}, dependency("add comment", err)
	}
	return c, nil
}

func (e Engine) SendMessage(ctx context.Context, threadID, actorID, body string) (domain.Message, error) {
	actorID = auth.Subject(actorID)
	if actorID == "" {
		return domain.Message{}, ErrUnauthenticated
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, newError(CodeInvalidArgument, "Message body is required.")
	}
	thread, err := e.Repo.GetThread(ctx, threadID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Message{}, newError(CodeNotFound, "Thread not found.")
	}
	if err != nil {
		return domain.Message{}, dependency("load thread", err)
	}
	if err := auth.CanPost(thread, actorID); err != nil {
		return domain.Message{}, forbidden(err)
	}
	m := domain.Message{
		ID:        e.newID(),
		ThreadID:  thread.ID,
		UserID:    actorID,
		Body:      body,
		CreatedAt: e.timestamp(),
	}
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := e.Repo.GetThreadTx(ctx, tx, thread.ID); errors.Is(err, repo.ErrNotFound) {
			return newError(CodeNotFound, "Thread not found.")
		} else if err != nil {
			return err
		}
		if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, domain.EventMessageCreated, "message", m.ID, actorID, m)
	})
	if err != nil {
		return domain.Message{}, dependency("send message", err)
	}
	return m, nil
}

// ThreadView is a thread with its recent messages, readable by participants only.
type ThreadView struct {
	Thread   domain.Thread
	Messages []domain.Message
}

func (e Engine) GetThread(ctx context.Context, threadID, actorID string, limit int) (ThreadView, error) {
	actorID = auth.Subject(actorID)
	if actorID == "" {
		return ThreadView{}, ErrUnauthenticated
	}
	thread, err := e.Repo.GetThread(ctx, threadID)
	if errors.Is(err, repo.ErrNotFound) {
		return ThreadView{}, newError(CodeNotFound, "Thread not found.")
	}
	if err != nil {
		return ThreadView{}, dependency("load thread", err)
	}
	if !thread.HasParticipant(actorID) {
		return ThreadView{}, newError(CodePermissionDenied, "Only thread participants can read this thread.")
	}
	msgs, err := e.Repo.ListMessages(ctx, thread.ID, limit)
	if err != nil {
		return ThreadView{}, dependency("list messages", err)
	}
	return ThreadView{Thread: thread, Messages: msgs}, nil
}

// CommentView pairs a comment with its author. User is nil when the author is unknown.
type CommentView struct {
	Comment domain.Comment
	User    *domain.User
}

// ItemView is the read model behind fetchRequest.
type ItemView struct {
	Item     domain.Item
	User     *domain.User
	Comments []CommentView
}

// FetchItem loads an item with its creator and comments. It needs no caller identity.
func (e Engine) FetchItem(ctx context.Context, kind domain.Kind, id string) (ItemView, error) {
	item, err := e.loadItem(ctx, kind, id)
	if err != nil {
		return ItemView{}, err
	}
	comments, err := e.Repo.ListComments(ctx, kind, item.ID)
	if err != nil {
		return ItemView{}, dependency("list comments", err)
	}
	ids := []string{item.UserID}
	for _, c := range comments {
		ids = append(ids, c.UserID)
	}
	users, err := e.Repo.GetUsers(ctx, ids)
	if err != nil {
		return ItemView{}, dependency("load users", err)
	}
	view := ItemView{Item: item, Comments: make([]CommentView, 0, len(comments))}
	if u, ok := users[item.UserID]; ok {
		view.User = &u
	}
	for _, c := range comments {
		cv := CommentView{Comment: c}
		if u, ok := users[c.UserID]; ok {
			cv.User = &u
		}
		view.Comments = append(view.Comments, cv)
	}
	return view, nil
}

func (e Engine) ListItems(ctx context.Context, kind domain.Kind, f repo.ItemFilters) ([]domain.Item, error) {
	if !kind.Valid() {
		return nil, newError(CodeInvalidArgument, "Unknown kind %q.", string(kind))
	}
	items, err := e.Repo.ListItems(ctx, kind, f)
	if err != nil {
		return nil, dependency("list "+kind.Collection(), err)
	}
	return items, nil
}
