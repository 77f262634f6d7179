package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
	"helpling/internal/engine/auth"
	"helpling/internal/events"
	"helpling/internal/notify"
	"helpling/internal/repo"
)

type AcceptResult struct {
	ThreadID string `json:"threadId"`
}

// Accept moves a pending item to accepted on behalf of actorID, creating the
// conversation thread between creator and acceptor in the same transaction.
func (e Engine) Accept(ctx context.Context, kind domain.Kind, itemID, actorID string) (AcceptResult, error) {
	actorID = auth.Subject(actorID)
	if actorID == "" {
		return AcceptResult{}, ErrUnauthenticated
	}
	item, err := e.loadItem(ctx, kind, itemID)
	if err != nil {
		return AcceptResult{}, err
	}
	if err := auth.CanAccept(item, actorID); err != nil {
		return AcceptResult{}, forbidden(err)
	}
	if item.Status != domain.StatusPending {
		return AcceptResult{}, invalidState(item, "accept")
	}

	now := e.timestamp()
	thread := domain.Thread{
		ID:        e.newID(),
		ItemID:    item.ID,
		ItemType:  kind,
		UserIDs:   []string{item.UserID, actorID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.InsertThread(ctx, tx, thread); err != nil {
			return err
		}
		ok, err := e.Repo.AcceptItem(ctx, tx, kind, item.ID, actorID, thread.ID, now)
		if err != nil {
			return fmt.Errorf("accept %s: %w", kind, err)
		}
		if !ok {
			return errStale
		}
		return e.events().Append(ctx, tx, domain.EventItemAccepted, string(kind), item.ID, actorID, events.Payload{
			"thread_id":   thread.ID,
			"helpling_id": actorID,
		})
	})
	if errors.Is(err, errStale) {
		return AcceptResult{}, e.staleError(ctx, kind, item.ID, "accept")
	}
	if err != nil {
		return AcceptResult{}, dependency("accept", err)
	}

	e.Log.Info().Str("kind", string(kind)).Str("item", item.ID).Str("actor", actorID).Str("thread", thread.ID).Msg("item accepted")
	e.notify(ctx, notify.Request{
		RecipientID: item.UserID,
		ActorID:     actorID,
		Title:       fmt.Sprintf("Your %s was accepted", kind),
		Body:        fmt.Sprintf("%s accepted %s", e.displayName(ctx, actorID), item.Title),
		Collection:  kind.Collection(),
		ID:          item.ID,
	})
	return AcceptResult{ThreadID: thread.ID}, nil
}

// Complete moves an accepted item to completed. Only the designated closer (see
// auth.Closer) may do so.
func (e Engine) Complete(ctx context.Context, kind domain.Kind, itemID, actorID string) error {
	actorID = auth.Subject(actorID)
	if actorID == "" {
		return ErrUnauthenticated
	}
	item, err := e.loadItem(ctx, kind, itemID)
	if err != nil {
		return err
	}
	if err := auth.CanComplete(item, actorID); err != nil {
		return forbidden(err)
	}
	if item.Status != domain.StatusAccepted {
		return invalidState(item, "complete")
	}

	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := e.Repo.CompleteItem(ctx, tx, kind, item.ID, e.timestamp())
		if err != nil {
			return fmt.Errorf("complete %s: %w", kind, err)
		}
		if !ok {
			return errStale
		}
		return e.events().Append(ctx, tx, domain.EventItemCompleted, string(kind), item.ID, actorID, nil)
	})
	if errors.Is(err, errStale) {
		return e.staleError(ctx, kind, item.ID, "complete")
	}
	if err != nil {
		return dependency("complete", err)
	}

	e.Log.Info().Str("kind", string(kind)).Str("item", item.ID).Str("actor", actorID).Msg("item completed")
	e.notify(ctx, notify.Request{
		RecipientID: item.Counterpart(actorID),
		ActorID:     actorID,
		Title:       fmt.Sprintf("%s completed", kind.Title()),
		Body:        fmt.Sprintf("%s marked %q as completed", e.displayName(ctx, actorID), item.Title),
		Collection:  kind.Collection(),
		ID:          item.ID,
	})
	return nil
}

// staleError explains why a conditional write matched nothing: the item vanished
// or another caller moved it first.
func (e Engine) staleError(ctx context.Context, kind domain.Kind, id, verb string) error {
	current, err := e.Repo.GetItem(ctx, kind, id)
	if errors.Is(err, repo.ErrNotFound) {
		return newError(CodeNotFound, "%s not found.", kind.Title())
	}
	if err != nil {
		return dependency("reload "+string(kind), err)
	}
	return invalidState(current, verb)
}
