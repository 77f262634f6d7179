// Package hooks holds the reactive handlers fed by the event pump.
package hooks

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"helpling/internal/domain"
	"helpling/internal/repo"
)

// Cleanup removes what an item leaves behind once it is deleted.
type Cleanup struct {
	DB   *sqlx.DB
	Repo repo.Repo
	Log  zerolog.Logger
}

func NewCleanup(db *sqlx.DB, log zerolog.Logger) Cleanup {
	return Cleanup{DB: db, Repo: repo.Repo{DB: db}, Log: log}
}

// OnItemDeleted deletes the item's comments, its thread and the thread's messages
// as one transaction. Running it again for the same item deletes nothing.
func (c Cleanup) OnItemDeleted(ctx context.Context, kind domain.Kind, itemID string) (repo.CascadeResult, error) {
	if !kind.Valid() || itemID == "" {
		c.Log.Debug().Str("kind", string(kind)).Str("item", itemID).Msg("cleanup skipped: bad reference")
		return repo.CascadeResult{}, nil
	}
	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		return repo.CascadeResult{}, err
	}
	defer tx.Rollback()
	res, err := c.Repo.DeleteItemDependents(ctx, tx, kind, itemID)
	if err != nil {
		return repo.CascadeResult{}, fmt.Errorf("cleanup %s %s: %w", kind, itemID, err)
	}
	if err := tx.Commit(); err != nil {
		return repo.CascadeResult{}, err
	}
	c.Log.Info().
		Str("kind", string(kind)).
		Str("item", itemID).
		Int64("comments", res.Comments).
		Int64("threads", res.Threads).
		Int64("messages", res.Messages).
		Msg("item dependents removed")
	return res, nil
}

func (c Cleanup) handleItemDeleted(ctx context.Context, evt domain.Event) error {
	_, err := c.OnItemDeleted(ctx, domain.Kind(evt.EntityKind), evt.EntityID)
	return err
}
