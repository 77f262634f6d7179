package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpling/internal/config"
	"helpling/internal/domain"
	"helpling/internal/engine"
	"helpling/internal/notify"
)

func TestNewSinkSelection(t *testing.T) {
	cfg := config.Default()
	sink, closer, err := NewSink(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, notify.LogSink{}, sink)

	mr := miniredis.RunT(t)
	cfg.Notifications.Sink = config.SinkRedis
	cfg.Notifications.RedisURL = "redis://" + mr.Addr()
	sink, closer, err = NewSink(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()
	assert.IsType(t, &notify.RedisSink{}, sink)

	cfg.Notifications.Sink = config.SinkWebhook
	cfg.Notifications.WebhookURL = "http://localhost:9/hook"
	sink, _, err = NewSink(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &notify.WebhookSink{}, sink)

	cfg.Notifications.Sink = "pigeon"
	_, _, err = NewSink(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestOpenWiresEngineAndPump(t *testing.T) {
	var logs bytes.Buffer
	cfg := config.Default()
	cfg.Log.Format = "json"
	ctx := context.Background()
	rt, err := Open(ctx, t.TempDir(), cfg, &logs)
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Engine.CreateUser(ctx, "u1", "Ann")
	require.NoError(t, err)
	_, err = rt.Engine.CreateUser(ctx, "u2", "Bob")
	require.NoError(t, err)
	it, err := rt.Engine.CreateItem(ctx, engine.CreateItemOptions{Kind: domain.KindOffer, Title: "Dog walking", ActorID: "u1"})
	require.NoError(t, err)
	_, err = rt.Engine.AddComment(ctx, domain.KindOffer, it.ID, "u2", "me please")
	require.NoError(t, err)

	n, err := rt.Pump.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, logs.String(), `"topic":"user_u1"`)
}
