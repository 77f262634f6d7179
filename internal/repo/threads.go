package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
)

type threadRow struct {
	ID          string `db:"id"`
	ItemID      string `db:"item_id"`
	ItemType    string `db:"item_type"`
	UserIDsJSON string `db:"user_ids_json"`
	Last        string `db:"last"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (row threadRow) thread() (domain.Thread, error) {
	t := domain.Thread{
		ID:        row.ID,
		ItemID:    row.ItemID,
		ItemType:  domain.Kind(row.ItemType),
		Last:      row.Last,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.UserIDsJSON), &t.UserIDs); err != nil {
		return t, fmt.Errorf("thread %s user ids: %w", row.ID, err)
	}
	return t, nil
}

const threadColumns = `id,item_id,item_type,user_ids_json,last,created_at,updated_at`

func (r Repo) InsertThread(ctx context.Context, tx *sqlx.Tx, t domain.Thread) error {
	if len(t.UserIDs) != 2 {
		return fmt.Errorf("thread needs exactly two participants, got %d", len(t.UserIDs))
	}
	ids, err := json.Marshal(t.UserIDs)
	if err != nil {
		return err
	}
	_, err = r.ext(tx).ExecContext(ctx, `INSERT INTO threads(`+threadColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.ItemID, string(t.ItemType), string(ids), t.Last, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (r Repo) GetThread(ctx context.Context, id string) (domain.Thread, error) {
	return r.GetThreadTx(ctx, nil, id)
}

func (r Repo) GetThreadTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Thread, error) {
	var row threadRow
	err := sqlx.GetContext(ctx, r.ext(tx), &row, `SELECT `+threadColumns+` FROM threads WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Thread{}, ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return row.thread()
}

func (r Repo) ListThreadsForItem(ctx context.Context, itemID string) ([]domain.Thread, error) {
	var rows []threadRow
	if err := sqlx.SelectContext(ctx, r.DB, &rows, `SELECT `+threadColumns+` FROM threads WHERE item_id=? ORDER BY created_at`, itemID); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	res := make([]domain.Thread, 0, len(rows))
	for _, row := range rows {
		t, err := row.thread()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// UpdateThreadSummary records the latest message. The write only lands when ts is
// not older than the current summary, so replays and late deliveries are harmless.
func (r Repo) UpdateThreadSummary(ctx context.Context, tx *sqlx.Tx, threadID, last, ts string) (bool, error) {
	query, args, err := sq.Update("threads").
		Set("last", last).
		Set("updated_at", ts).
		Where(sq.Eq{"id": threadID}).
		Where(sq.LtOrEq{"updated_at": ts}).
		ToSql()
	if err != nil {
		return false, err
	}
	return execAffected(ctx, r.ext(tx), query, args...)
}

// CascadeResult counts rows removed by DeleteItemDependents.
type CascadeResult struct {
	Comments int64
	Threads  int64
	Messages int64
}

// DeleteItemDependents removes comments, threads and thread messages that belong
// to an item. Deleting nothing is not an error.
func (r Repo) DeleteItemDependents(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, itemID string) (CascadeResult, error) {
	var res CascadeResult
	ex := r.ext(tx)

	threadIDs := sq.Select("id").From("threads").Where(sq.Eq{"item_id": itemID})
	sub, subArgs, err := threadIDs.ToSql()
	if err != nil {
		return res, err
	}
	n, err := countExec(ctx, ex, `DELETE FROM messages WHERE thread_id IN (`+sub+`)`, subArgs...)
	if err != nil {
		return res, fmt.Errorf("delete messages: %w", err)
	}
	res.Messages = n

	query, args, err := sq.Delete("comments").Where(sq.Eq{"item_id": itemID, "item_type": string(kind)}).ToSql()
	if err != nil {
		return res, err
	}
	if res.Comments, err = countExec(ctx, ex, query, args...); err != nil {
		return res, fmt.Errorf("delete comments: %w", err)
	}

	query, args, err = sq.Delete("threads").Where(sq.Eq{"item_id": itemID}).ToSql()
	if err != nil {
		return res, err
	}
	if res.Threads, err = countExec(ctx, ex, query, args...); err != nil {
		return res, fmt.Errorf("delete threads: %w", err)
	}
	return res, nil
}

func countExec(ctx context.Context, ex sqlx.ExecerContext, query string, args ...any) (int64, error) {
	out, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return out.RowsAffected()
}
