package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, tx *sqlx.Tx, c domain.Comment) error {
	_, err := r.ext(tx).ExecContext(ctx, `INSERT INTO comments(id,item_id,item_type,user_id,body,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.ItemID, string(c.ItemType), c.UserID, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r Repo) ListComments(ctx context.Context, kind domain.Kind, itemID string) ([]domain.Comment, error) {
	var res []domain.Comment
	err := sqlx.SelectContext(ctx, r.DB, &res, `SELECT id,item_id,item_type,user_id,body,created_at FROM comments
WHERE item_id=? AND item_type=? ORDER BY created_at, id`, itemID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return res, nil
}

func (r Repo) InsertMessage(ctx context.Context, tx *sqlx.Tx, m domain.Message) error {
	_, err := r.ext(tx).ExecContext(ctx, `INSERT INTO messages(id,thread_id,user_id,body,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ThreadID, m.UserID, m.Body, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r Repo) ListMessages(ctx context.Context, threadID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var res []domain.Message
	err := sqlx.SelectContext(ctx, r.DB, &res, `SELECT id,thread_id,user_id,body,created_at FROM messages
WHERE thread_id=? ORDER BY created_at, id LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return res, nil
}
