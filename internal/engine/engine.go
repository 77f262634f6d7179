package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"helpling/internal/domain"
	"helpling/internal/engine/auth"
	"helpling/internal/events"
	"helpling/internal/notify"
	"helpling/internal/repo"
)

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, r notify.Request) (bool, error)
}

type Engine struct {
	DB       *sqlx.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier Notifier
	Log      zerolog.Logger
	Now      func() time.Time
	NewID    func() string
}

func New(db *sqlx.DB, n Notifier, log zerolog.Logger) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Notifier: n,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// errStale marks a conditional write that matched no row.
var errStale = errors.New("stale write")

func (e Engine) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) loadItem(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	if !kind.Valid() {
		return domain.Item{}, newError(CodeInvalidArgument, "Unknown kind %q.", string(kind))
	}
	if id == "" {
		return domain.Item{}, newError(CodeInvalidArgument, "%s id is required.", kind.Title())
	}
	item, err := e.Repo.GetItem(ctx, kind, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Item{}, newError(CodeNotFound, "%s not found.", kind.Title())
	}
	if err != nil {
		return domain.Item{}, dependency("load "+string(kind), err)
	}
	return item, nil
}

func forbidden(err error) error {
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return &Error{Code: CodePermissionDenied, Message: fe.Reason}
	}
	return err
}

func invalidState(item domain.Item, verb string) *Error {
	var msg string
	switch item.Status {
	case domain.StatusPending:
		msg = fmt.Sprintf("%s is not in progress.", item.Kind.Title())
	case domain.StatusAccepted:
		msg = fmt.Sprintf("%s already accepted.", item.Kind.Title())
	case domain.StatusCompleted:
		msg = fmt.Sprintf("%s already completed.", item.Kind.Title())
	default:
		msg = fmt.Sprintf("Cannot %s %s in status %s.", verb, item.Kind, item.Status)
	}
	return &Error{Code: CodeInvalidState, Message: msg, State: item.Status}
}

// displayName resolves a user's name for notification text.
func (e Engine) displayName(ctx context.Context, userID string) string {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil || u.Name == "" {
		return "Someone"
	}
	return u.Name
}

func (e Engine) notify(ctx context.Context, r notify.Request) {
	if e.Notifier == nil {
		return
	}
	if _, err := e.Notifier.Notify(ctx, r); err != nil {
		e.Log.Warn().Err(err).Str("recipient", r.RecipientID).Str("link", r.Collection+"/"+r.ID).Msg("notification failed")
	}
}
