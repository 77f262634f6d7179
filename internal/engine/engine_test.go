package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"helpling/internal/db"
	"helpling/internal/domain"
	"helpling/internal/engine"
	"helpling/internal/migrate"
	"helpling/internal/notify"
	"helpling/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Sink   *notify.MemorySink
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sink := &notify.MemorySink{}
	eng := engine.New(conn, notify.NewDispatcher(sink, "app", zerolog.Nop()), zerolog.Nop())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	for _, u := range []struct{ id, name string }{{"u1", "Ann"}, {"u2", "Bob"}, {"u3", "Cid"}} {
		if _, err := eng.CreateUser(ctx, u.id, u.name); err != nil {
			t.Fatalf("create user %s: %v", u.id, err)
		}
	}
	return testEnv{Engine: eng, Sink: sink, Ctx: ctx}
}

func (env testEnv) item(t *testing.T, kind domain.Kind, owner string) domain.Item {
	t.Helper()
	it, err := env.Engine.CreateItem(env.Ctx, engine.CreateItemOptions{Kind: kind, Title: "Lawn mowing", ActorID: owner})
	if err != nil {
		t.Fatalf("create %s: %v", kind, err)
	}
	return it
}

var sentinels = map[engine.Code]error{
	engine.CodeUnauthenticated:  engine.ErrUnauthenticated,
	engine.CodeNotFound:         engine.ErrNotFound,
	engine.CodePermissionDenied: engine.ErrPermissionDenied,
	engine.CodeInvalidState:     engine.ErrInvalidState,
	engine.CodeInvalidArgument:  engine.ErrInvalidArgument,
}

func assertCode(t *testing.T, err error, want engine.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if !errors.Is(err, sentinels[want]) {
		t.Fatalf("expected %s, got %q (%v)", want, engine.CodeOf(err), err)
	}
}

func TestAcceptRequestScenario(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindRequest, "u1")

	res, err := env.Engine.Accept(env.Ctx, domain.KindRequest, it.ID, "u2")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.ThreadID == "" {
		t.Fatalf("expected thread id")
	}
	got, err := env.Engine.Repo.GetItem(env.Ctx, domain.KindRequest, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusAccepted || got.HelplingID == nil || *got.HelplingID != "u2" {
		t.Fatalf("unexpected item after accept: %+v", got)
	}
	if got.ThreadID == nil || *got.ThreadID != res.ThreadID {
		t.Fatalf("thread id not recorded on item: %+v", got)
	}
	th, err := env.Engine.Repo.GetThread(env.Ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if th.ItemID != it.ID || th.ItemType != domain.KindRequest || !th.HasParticipant("u1") || !th.HasParticipant("u2") {
		t.Fatalf("unexpected thread: %+v", th)
	}

	sent := env.Sink.Sent("user_u1")
	if len(sent) != 1 {
		t.Fatalf("expected 1 notification to creator, got %d", len(sent))
	}
	if sent[0].Message.Data["deeplink"] != "app://requests/"+it.ID {
		t.Fatalf("unexpected deeplink %q", sent[0].Message.Data["deeplink"])
	}
	if sent[0].Message.Notification.Body != "Bob accepted Lawn mowing" {
		t.Fatalf("unexpected body %q", sent[0].Message.Notification.Body)
	}
	if len(env.Sink.Sent("user_u2")) != 0 {
		t.Fatalf("actor must not be notified")
	}

	// complete by the request's creator
	if err := env.Engine.Complete(env.Ctx, domain.KindRequest, it.ID, "u1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = env.Engine.Repo.GetItem(env.Ctx, domain.KindRequest, it.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if len(env.Sink.Sent("user_u2")) != 1 {
		t.Fatalf("expected helpling notified on completion")
	}
	err = env.Engine.Complete(env.Ctx, domain.KindRequest, it.ID, "u1")
	assertCode(t, err, engine.CodeInvalidState)
	var de *engine.Error
	if !errors.As(err, &de) || de.State != domain.StatusCompleted {
		t.Fatalf("expected completed state on error, got %+v", err)
	}
}

func TestAcceptOwnItemDenied(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindOffer, "u1")

	_, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u1")
	assertCode(t, err, engine.CodePermissionDenied)
	if err.Error() != "You cannot accept your own offer." {
		t.Fatalf("unexpected message %q", err.Error())
	}

	// still denied once accepted by someone else
	if _, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u1")
	assertCode(t, err, engine.CodePermissionDenied)
}

func TestAcceptGuards(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindOffer, "u1")

	_, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "")
	assertCode(t, err, engine.CodeUnauthenticated)
	if !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected errors.Is unauthenticated")
	}

	_, err = env.Engine.Accept(env.Ctx, domain.KindOffer, "missing", "u2")
	assertCode(t, err, engine.CodeNotFound)
	if err.Error() != "Offer not found." {
		t.Fatalf("unexpected message %q", err.Error())
	}

	// kind selects the collection
	_, err = env.Engine.Accept(env.Ctx, domain.KindRequest, it.ID, "u2")
	assertCode(t, err, engine.CodeNotFound)

	_, err = env.Engine.Accept(env.Ctx, domain.Kind("task"), it.ID, "u2")
	assertCode(t, err, engine.CodeInvalidArgument)

	if _, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u3")
	assertCode(t, err, engine.CodeInvalidState)
	if err.Error() != "Offer already accepted." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindOffer, "u1")

	actors := []string{"u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	for _, a := range actors[2:] {
		if _, err := env.Engine.CreateUser(env.Ctx, a, a); err != nil {
			t.Fatal(err)
		}
	}
	// fresh ids for every thread
	var idMu sync.Mutex
	n := 0
	env.Engine.NewID = func() string {
		idMu.Lock()
		defer idMu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}

	var wg sync.WaitGroup
	results := make([]error, len(actors))
	threads := make([]string, len(actors))
	for i, a := range actors {
		wg.Add(1)
		go func(i int, a string) {
			defer wg.Done()
			res, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, a)
			results[i] = err
			threads[i] = res.ThreadID
		}(i, a)
	}
	wg.Wait()

	winners := 0
	var winner, winnerThread string
	for i, err := range results {
		if err == nil {
			winners++
			winner = actors[i]
			winnerThread = threads[i]
			continue
		}
		if !errors.Is(err, engine.ErrInvalidState) {
			t.Fatalf("loser %s: expected invalid-state, got %v", actors[i], err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	got, err := env.Engine.Repo.GetItem(env.Ctx, domain.KindOffer, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.HelplingID == nil || *got.HelplingID != winner || got.ThreadID == nil || *got.ThreadID != winnerThread {
		t.Fatalf("item does not reflect winner %s: %+v", winner, got)
	}
	ths, err := env.Engine.Repo.ListThreadsForItem(env.Ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ths) != 1 {
		t.Fatalf("expected one thread, got %d", len(ths))
	}
}

func TestCompleteCloserRules(t *testing.T) {
	env := newTestEnv(t)

	offer := env.item(t, domain.KindOffer, "u1")
	if err := env.Engine.Complete(env.Ctx, domain.KindOffer, offer.ID, "u2"); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("non-participant on pending offer: %v", err)
	}
	assertCode(t, env.Engine.Complete(env.Ctx, domain.KindOffer, offer.ID, "u1"), engine.CodePermissionDenied)

	if _, err := env.Engine.Accept(env.Ctx, domain.KindOffer, offer.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	err := env.Engine.Complete(env.Ctx, domain.KindOffer, offer.ID, "u3")
	assertCode(t, err, engine.CodePermissionDenied)
	if err.Error() != "Only participants can complete this offer." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	err = env.Engine.Complete(env.Ctx, domain.KindOffer, offer.ID, "u1")
	assertCode(t, err, engine.CodePermissionDenied)
	if err.Error() != "Only the helpling can complete an offer." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := env.Engine.Complete(env.Ctx, domain.KindOffer, offer.ID, "u2"); err != nil {
		t.Fatalf("helpling completes offer: %v", err)
	}

	req := env.item(t, domain.KindRequest, "u1")
	if _, err := env.Engine.Accept(env.Ctx, domain.KindRequest, req.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	err = env.Engine.Complete(env.Ctx, domain.KindRequest, req.ID, "u2")
	assertCode(t, err, engine.CodePermissionDenied)
	if err.Error() != "Only the requester can complete a request." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCompleteBeforeAccept(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindRequest, "u1")

	err := env.Engine.Complete(env.Ctx, domain.KindRequest, it.ID, "u1")
	assertCode(t, err, engine.CodeInvalidState)
	var de *engine.Error
	if !errors.As(err, &de) || de.State != domain.StatusPending {
		t.Fatalf("expected pending state, got %+v", err)
	}
	if got, _ := env.Engine.Repo.GetItem(env.Ctx, domain.KindRequest, it.ID); got.Status != domain.StatusPending {
		t.Fatalf("status must not move, got %s", got.Status)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindRequest, "u1")
	observed := []domain.Status{it.Status}

	steps := []func() error{
		func() error { return env.Engine.Complete(env.Ctx, domain.KindRequest, it.ID, "u1") },
		func() error { _, err := env.Engine.Accept(env.Ctx, domain.KindRequest, it.ID, "u2"); return err },
		func() error { _, err := env.Engine.Accept(env.Ctx, domain.KindRequest, it.ID, "u3"); return err },
		func() error { return env.Engine.Complete(env.Ctx, domain.KindRequest, it.ID, "u1") },
		func() error { _, err := env.Engine.Accept(env.Ctx, domain.KindRequest, it.ID, "u3"); return err },
		func() error { return env.Engine.Complete(env.Ctx, domain.KindRequest, it.ID, "u1") },
	}
	for _, step := range steps {
		_ = step()
		got, err := env.Engine.Repo.GetItem(env.Ctx, domain.KindRequest, it.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != observed[len(observed)-1] {
			observed = append(observed, got.Status)
		}
	}
	want := []domain.Status{domain.StatusPending, domain.StatusAccepted, domain.StatusCompleted}
	if fmt.Sprint(observed) != fmt.Sprint(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
}

func TestAcceptSurvivesNotificationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Sink.Err = errors.New("push unavailable")
	it := env.item(t, domain.KindOffer, "u1")

	if _, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u2"); err != nil {
		t.Fatalf("accept must not fail on notification error: %v", err)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, domain.KindOffer, it.ID)
	if got.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
}

func TestEventsAppendedWithMutations(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindRequest, "u1")
	res, err := env.Engine.Accept(env.Ctx, domain.KindRequest, it.ID, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, res.ThreadID, "u2", "on my way"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, domain.KindRequest, it.ID, "u3", "nice"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteItem(env.Ctx, domain.KindRequest, it.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	want := []string{domain.EventItemCreated, domain.EventItemAccepted, domain.EventMessageCreated, domain.EventCommentCreated, domain.EventItemDeleted}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("events %v, want %v", types, want)
	}
}

func TestDeleteItemCreatorOnly(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindOffer, "u1")

	assertCode(t, env.Engine.DeleteItem(env.Ctx, domain.KindOffer, it.ID, "u2"), engine.CodePermissionDenied)
	if err := env.Engine.DeleteItem(env.Ctx, domain.KindOffer, it.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.GetItem(env.Ctx, domain.KindOffer, it.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected item gone, got %v", err)
	}
	assertCode(t, env.Engine.DeleteItem(env.Ctx, domain.KindOffer, it.ID, "u1"), engine.CodeNotFound)
}

func TestSendMessageParticipantsOnly(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindOffer, "u1")
	res, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u2")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SendMessage(env.Ctx, res.ThreadID, "u3", "hi")
	assertCode(t, err, engine.CodePermissionDenied)
	_, err = env.Engine.SendMessage(env.Ctx, "nope", "u1", "hi")
	assertCode(t, err, engine.CodeNotFound)
	if _, err := env.Engine.SendMessage(env.Ctx, res.ThreadID, "u1", "hi"); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.GetThread(env.Ctx, res.ThreadID, "u2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Messages) != 1 || view.Messages[0].Body != "hi" {
		t.Fatalf("unexpected messages %+v", view.Messages)
	}
}

func TestFetchItemEmbedsUsers(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindRequest, "u1")
	if _, err := env.Engine.AddComment(env.Ctx, domain.KindRequest, it.ID, "u2", "I can help"); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.FetchItem(env.Ctx, domain.KindRequest, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.User == nil || view.User.Name != "Ann" {
		t.Fatalf("expected embedded creator, got %+v", view.User)
	}
	if len(view.Comments) != 1 || view.Comments[0].User == nil || view.Comments[0].User.Name != "Bob" {
		t.Fatalf("unexpected comments %+v", view.Comments)
	}
	_, err = env.Engine.FetchItem(env.Ctx, domain.KindRequest, "missing")
	assertCode(t, err, engine.CodeNotFound)
}

func TestStoreFailureIsDependencyError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer mockDB.Close()
	conn := sqlx.NewDb(mockDB, "sqlite")
	eng := engine.New(conn, nil, zerolog.Nop())

	mock.ExpectQuery("SELECT .* FROM offers WHERE id=").WillReturnError(errors.New("disk I/O error"))
	_, err = eng.Accept(context.Background(), domain.KindOffer, "o1", "u2")
	if !engine.IsDependency(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if engine.CodeOf(err) != "" {
		t.Fatalf("dependency failure must not carry a domain code")
	}

	mock.ExpectQuery("SELECT .* FROM offers WHERE id=").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "helpling_id", "status", "thread_id", "title", "description", "created_at", "updated_at"}).
			AddRow("o1", "u1", nil, "pending", nil, "t", "", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO threads").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()
	_, err = eng.Accept(context.Background(), domain.KindOffer, "o1", "u2")
	if !engine.IsDependency(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCommentOnItemDeletedMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindRequest, "u1")

	// The comment id is minted after the item was loaded; delete the item and run
	// its cleanup right there.
	deleted := false
	env.Engine.NewID = func() string {
		if !deleted {
			deleted = true
			if err := env.Engine.DeleteItem(env.Ctx, domain.KindRequest, it.ID, "u1"); err != nil {
				t.Errorf("delete: %v", err)
			}
			if _, err := env.Engine.Repo.DeleteItemDependents(env.Ctx, nil, domain.KindRequest, it.ID); err != nil {
				t.Errorf("cleanup: %v", err)
			}
		}
		return "c-late"
	}
	_, err := env.Engine.AddComment(env.Ctx, domain.KindRequest, it.ID, "u2", "still need help?")
	assertCode(t, err, engine.CodeNotFound)
	if err.Error() != "Request not found." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	left, err := env.Engine.Repo.ListComments(env.Ctx, domain.KindRequest, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("comment survived item deletion: %+v", left)
	}
}

func TestMessageOnThreadRemovedMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	it := env.item(t, domain.KindOffer, "u1")
	res, err := env.Engine.Accept(env.Ctx, domain.KindOffer, it.ID, "u2")
	if err != nil {
		t.Fatal(err)
	}

	removed := false
	env.Engine.NewID = func() string {
		if !removed {
			removed = true
			if err := env.Engine.DeleteItem(env.Ctx, domain.KindOffer, it.ID, "u1"); err != nil {
				t.Errorf("delete: %v", err)
			}
			if _, err := env.Engine.Repo.DeleteItemDependents(env.Ctx, nil, domain.KindOffer, it.ID); err != nil {
				t.Errorf("cleanup: %v", err)
			}
		}
		return "m-late"
	}
	_, err = env.Engine.SendMessage(env.Ctx, res.ThreadID, "u2", "on my way")
	assertCode(t, err, engine.CodeNotFound)
	msgs, err := env.Engine.Repo.ListMessages(env.Ctx, res.ThreadID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message survived thread removal: %+v", msgs)
	}
}
