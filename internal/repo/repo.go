package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
)

// Repo is the typed adapter over the document tables. Methods that take a *sqlx.Tx
// run inside it when non-nil and against the pool otherwise.
type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) ext(tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return r.DB
}

const itemColumns = `id,user_id,helpling_id,status,thread_id,title,description,created_at,updated_at`

func (r Repo) InsertUser(ctx context.Context, tx *sqlx.Tx, u domain.User) error {
	_, err := r.ext(tx).ExecContext(ctx, `INSERT INTO users(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, u.ID, u.Name, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := sqlx.GetContext(ctx, r.DB, &u, `SELECT id,name,created_at FROM users WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUsers resolves a set of ids; unknown ids are absent from the result.
func (r Repo) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	res := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	query, args, err := sq.Select("id", "name", "created_at").From("users").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, err
	}
	var users []domain.User
	if err := sqlx.SelectContext(ctx, r.DB, &users, query, args...); err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	for _, u := range users {
		res[u.ID] = u
	}
	return res, nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sqlx.Tx, it domain.Item) error {
	query, args, err := sq.Insert(it.Kind.Collection()).
		Columns("id", "user_id", "status", "title", "description", "created_at", "updated_at").
		Values(it.ID, it.UserID, string(it.Status), it.Title, it.Description, it.CreatedAt, it.UpdatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.ext(tx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", it.Kind, err)
	}
	return nil
}

func (r Repo) GetItem(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	return r.getItem(ctx, nil, kind, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, id string) (domain.Item, error) {
	return r.getItem(ctx, tx, kind, id)
}

func (r Repo) getItem(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, id string) (domain.Item, error) {
	var it domain.Item
	err := sqlx.GetContext(ctx, r.ext(tx), &it, `SELECT `+itemColumns+` FROM `+kind.Collection()+` WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, ErrNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get %s: %w", kind, err)
	}
	it.Kind = kind
	return it, nil
}

// ItemFilters narrows ListItems.
type ItemFilters struct {
	Status domain.Status
	UserID string
	Limit  int
}

func (r Repo) ListItems(ctx context.Context, kind domain.Kind, f ItemFilters) ([]domain.Item, error) {
	b := sq.Select(itemColumns).From(kind.Collection()).OrderBy("updated_at DESC", "id DESC")
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.UserID != "" {
		b = b.Where(sq.Or{sq.Eq{"user_id": f.UserID}, sq.Eq{"helpling_id": f.UserID}})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var items []domain.Item
	if err := sqlx.SelectContext(ctx, r.DB, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind.Collection(), err)
	}
	for i := range items {
		items[i].Kind = kind
	}
	return items, nil
}

// AcceptItem moves a pending item to accepted. It reports false without error when
// the item is missing or no longer pending, leaving the caller to classify why.
func (r Repo) AcceptItem(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, id, helplingID, threadID, now string) (bool, error) {
	query, args, err := sq.Update(kind.Collection()).
		SetMap(map[string]any{
			"helpling_id": helplingID,
			"status":      string(domain.StatusAccepted),
			"thread_id":   threadID,
			"updated_at":  now,
		}).
		Where(sq.Eq{"id": id, "status": string(domain.StatusPending), "helpling_id": nil}).
		ToSql()
	if err != nil {
		return false, err
	}
	return execAffected(ctx, r.ext(tx), query, args...)
}

// CompleteItem moves an accepted item to completed under the same conditional
// write discipline as AcceptItem.
func (r Repo) CompleteItem(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, id, now string) (bool, error) {
	query, args, err := sq.Update(kind.Collection()).
		Set("status", string(domain.StatusCompleted)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.StatusAccepted)}).
		ToSql()
	if err != nil {
		return false, err
	}
	return execAffected(ctx, r.ext(tx), query, args...)
}

// TouchItem advances updated_at; older timestamps never overwrite newer ones.
func (r Repo) TouchItem(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, id, ts string) (bool, error) {
	query, args, err := sq.Update(kind.Collection()).
		Set("updated_at", ts).
		Where(sq.Eq{"id": id}).
		Where(sq.Lt{"updated_at": ts}).
		ToSql()
	if err != nil {
		return false, err
	}
	return execAffected(ctx, r.ext(tx), query, args...)
}

func (r Repo) DeleteItem(ctx context.Context, tx *sqlx.Tx, kind domain.Kind, id string) error {
	ok, err := execAffected(ctx, r.ext(tx), `DELETE FROM `+kind.Collection()+` WHERE id=?`, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func execAffected(ctx context.Context, ex sqlx.ExecerContext, query string, args ...any) (bool, error) {
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
