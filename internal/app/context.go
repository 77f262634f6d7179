package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"helpling/internal/config"
	"helpling/internal/db"
	"helpling/internal/engine"
	"helpling/internal/hooks"
	"helpling/internal/migrate"
	"helpling/internal/notify"
	"helpling/internal/repo"
)

// Runtime bundles everything a command needs for one workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sqlx.DB
	Log       zerolog.Logger
	Sink      notify.Sink
	Notifier  *notify.Dispatcher
	Engine    engine.Engine
	Pump      *hooks.Pump
	closers   []io.Closer
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Log.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// NewSink selects the notification backend named in the config.
func NewSink(cfg *config.Config, log zerolog.Logger) (notify.Sink, io.Closer, error) {
	n := cfg.Notifications
	switch strings.ToLower(n.Sink) {
	case "", config.SinkLog:
		return notify.LogSink{Log: log.With().Str("component", "push").Logger()}, nil, nil
	case config.SinkRedis:
		s, err := notify.NewRedisSink(n.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis sink: %w", err)
		}
		return s, s, nil
	case config.SinkWebhook:
		return notify.NewWebhookSink(n.WebhookURL, n.WebhookSecret, n.Timeout()), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown notification sink %q", n.Sink)
}

// Open loads config, opens and migrates the workspace database and wires the
// engine and the event pump.
func Open(ctx context.Context, workspace string, cfg *config.Config, logOut io.Writer) (*Runtime, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(workspace); err != nil {
			return nil, err
		}
	}
	log := NewLogger(cfg, logOut)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, DB: conn, Log: log}
	rt.closers = append(rt.closers, conn)
	if err := migrate.Migrate(ctx, conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sink, closer, err := NewSink(cfg, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}
	rt.Sink = sink
	rt.Notifier = notify.NewDispatcher(sink, cfg.Notifications.DeeplinkScheme, log.With().Str("component", "notify").Logger())
	rt.Engine = engine.New(conn, rt.Notifier, log.With().Str("component", "engine").Logger())

	hookLog := log.With().Str("component", "hooks").Logger()
	rt.Pump = hooks.NewPump(repo.Repo{DB: conn}, cfg.Hooks.Consumer, hookLog)
	rt.Pump.Interval = cfg.HookInterval()
	if cfg.Hooks.BatchSize > 0 {
		rt.Pump.Batch = cfg.Hooks.BatchSize
	}
	rt.Pump.MaxAttempts = cfg.Hooks.MaxAttempts
	hooks.Register(rt.Pump,
		hooks.NewCleanup(conn, hookLog),
		hooks.Activity{Repo: repo.Repo{DB: conn}, Notifier: rt.Notifier, Log: hookLog},
	)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
