package helplingsdk

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpling/internal/app"
	"helpling/internal/config"
	"helpling/internal/server"
)

func newClient(t *testing.T) (func(userID string) *Client, *app.Runtime) {
	t.Helper()
	ctx := context.Background()
	rt, err := app.Open(ctx, t.TempDir(), config.Default(), io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	for _, u := range [][2]string{{"u1", "Ann"}, {"u2", "Bob"}} {
		_, err := rt.Engine.CreateUser(ctx, u[0], u[1])
		require.NoError(t, err)
	}
	handler, err := server.New(server.Config{
		Engine:   rt.Engine,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", AllowUserHeader: true},
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return func(userID string) *Client {
		c := New(srv.URL)
		c.UserID = userID
		return c
	}, rt
}

func TestClientLifecycle(t *testing.T) {
	as, _ := newClient(t)
	ctx := context.Background()
	ann, bob := as("u1"), as("u2")

	it, err := ann.CreateItem(ctx, "request", "Lawn mowing", "front yard")
	require.NoError(t, err)
	assert.Equal(t, "pending", it.Status)

	threadID, err := bob.Accept(ctx, "request", it.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, threadID)

	_, err = bob.Accept(ctx, "request", it.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "already-exists", apiErr.Code)

	_, err = bob.SendMessage(ctx, threadID, "on my way")
	require.NoError(t, err)
	th, err := ann.Thread(ctx, threadID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, th.UserIDs)
	require.Len(t, th.Messages, 1)

	require.NoError(t, ann.Complete(ctx, "request", it.ID))

	fetched, err := as("").FetchRequest(ctx, "request", it.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", fetched.Item.Status)
	assert.Empty(t, fetched.Item.UserID)
	require.NotNil(t, fetched.Item.User)
	assert.Equal(t, "Ann", fetched.Item.User.Name)
}

func TestClientCommentsAndDelete(t *testing.T) {
	as, rt := newClient(t)
	ctx := context.Background()
	ann, bob := as("u1"), as("u2")

	it, err := ann.CreateItem(ctx, "offer", "Bike repair", "")
	require.NoError(t, err)
	_, err = bob.AddComment(ctx, "offer", it.ID, "still available?")
	require.NoError(t, err)

	fetched, err := bob.FetchRequest(ctx, "offer", it.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Comments, 1)
	assert.Equal(t, "Bob", fetched.Comments[0].User.Name)

	items, err := bob.ListItems(ctx, "offer", "pending", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	err = bob.DeleteItem(ctx, "offer", it.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	require.NoError(t, ann.DeleteItem(ctx, "offer", it.ID))
	_, err = rt.Pump.Drain(ctx)
	require.NoError(t, err)

	_, err = bob.FetchRequest(ctx, "offer", it.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Offer not found.", apiErr.Message)
}

func TestClientUnauthenticated(t *testing.T) {
	as, _ := newClient(t)
	_, err := as("").Accept(context.Background(), "offer", "x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthenticated", apiErr.Code)

	c := as("")
	c.APIKey = "hl_bogus"
	_, err = c.UpsertUser(context.Background(), "Mallory")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
