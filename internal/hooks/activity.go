package hooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"helpling/internal/domain"
	"helpling/internal/events"
	"helpling/internal/notify"
	"helpling/internal/repo"
)

type Notifier interface {
	Notify(ctx context.Context, r notify.Request) (bool, error)
}

// Activity keeps thread and item summaries current and notifies the other party
// about new messages and comments.
type Activity struct {
	Repo     repo.Repo
	Notifier Notifier
	Log      zerolog.Logger
}

func ThreadCollapseKey(threadID string) string {
	return "thread_" + threadID
}

func ItemCollapseKey(kind domain.Kind, itemID string) string {
	return kind.Collection() + "_" + itemID
}

func (a Activity) abort(reason string, fields map[string]any) error {
	a.Log.Debug().Fields(fields).Msg(reason)
	return nil
}

func (a Activity) OnMessageCreated(ctx context.Context, m domain.Message) error {
	thread, err := a.Repo.GetThread(ctx, m.ThreadID)
	if errors.Is(err, repo.ErrNotFound) {
		return a.abort("message hook: thread missing", map[string]any{"thread": m.ThreadID, "message": m.ID})
	}
	if err != nil {
		return err
	}
	if _, err := a.Repo.UpdateThreadSummary(ctx, nil, thread.ID, m.Body, m.CreatedAt); err != nil {
		return fmt.Errorf("update thread %s: %w", thread.ID, err)
	}

	sender, err := a.Repo.GetUser(ctx, m.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return a.abort("message hook: sender missing", map[string]any{"thread": thread.ID, "user": m.UserID})
	}
	if err != nil {
		return err
	}
	recipient := thread.Other(m.UserID)
	if recipient == "" {
		return a.abort("message hook: no counterpart", map[string]any{"thread": thread.ID, "user": m.UserID})
	}

	_, err = a.Notifier.Notify(ctx, notify.Request{
		RecipientID: recipient,
		ActorID:     m.UserID,
		Title:       sender.Name,
		Body:        m.Body,
		Collection:  "threads",
		ID:          thread.ID,
		CollapseKey: ThreadCollapseKey(thread.ID),
	})
	return err
}

func (a Activity) OnCommentCreated(ctx context.Context, c domain.Comment) error {
	if !c.ItemType.Valid() {
		return a.abort("comment hook: unknown item type", map[string]any{"comment": c.ID, "item_type": string(c.ItemType)})
	}
	if _, err := a.Repo.TouchItem(ctx, nil, c.ItemType, c.ItemID, c.CreatedAt); err != nil {
		return fmt.Errorf("touch %s %s: %w", c.ItemType, c.ItemID, err)
	}

	commenter, err := a.Repo.GetUser(ctx, c.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return a.abort("comment hook: commenter missing", map[string]any{"comment": c.ID, "user": c.UserID})
	}
	if err != nil {
		return err
	}
	item, err := a.Repo.GetItem(ctx, c.ItemType, c.ItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return a.abort("comment hook: item missing", map[string]any{"comment": c.ID, "item": c.ItemID})
	}
	if err != nil {
		return err
	}
	if item.UserID == c.UserID {
		return nil
	}

	_, err = a.Notifier.Notify(ctx, notify.Request{
		RecipientID: item.UserID,
		ActorID:     c.UserID,
		Title:       commenter.Name,
		Body:        c.Body,
		Collection:  item.Kind.Collection(),
		ID:          item.ID,
		CollapseKey: ItemCollapseKey(item.Kind, item.ID),
	})
	return err
}

func (a Activity) handleMessageCreated(ctx context.Context, evt domain.Event) error {
	var m domain.Message
	if err := events.Decode(evt, &m); err != nil {
		a.Log.Warn().Err(err).Int64("event", evt.ID).Msg("message hook: undecodable payload")
		return nil
	}
	return a.OnMessageCreated(ctx, m)
}

func (a Activity) handleCommentCreated(ctx context.Context, evt domain.Event) error {
	var c domain.Comment
	if err := events.Decode(evt, &c); err != nil {
		a.Log.Warn().Err(err).Int64("event", evt.ID).Msg("comment hook: undecodable payload")
		return nil
	}
	return a.OnCommentCreated(ctx, c)
}
