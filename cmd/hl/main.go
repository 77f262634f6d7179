package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"helpling/internal/app"
	"helpling/internal/config"
	"helpling/internal/db"
	"helpling/internal/domain"
	"helpling/internal/engine"
	"helpling/internal/notify"
	"helpling/internal/repo"
	"helpling/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Helpling CLI",
	Long: `Helpling is a neighbourhood help exchange.
- Offers and requests: a user posts one, another user accepts it and becomes the helpling.
- Lifecycle: pending -> accepted -> completed. Each item is accepted and completed at most once.
- Threads: accepting opens a private thread between the creator and the helpling.
- Comments: anyone signed in can comment on an item; the owner is notified.
- Event log: every change is appended to the log; 'hl events pump' runs the hooks, 'hl log tail' shows it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HELPLING")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user-id", "u", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(acceptCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(threadCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage helpling.yml"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				masked, err := cfg.YAML()
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"path": config.Path(viper.GetString("workspace")), "yaml": masked})
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate helpling.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

// --- users ---

func userCmd() *cobra.Command {
	c := &cobra.Command{Use: "user", Short: "Manage users and credentials"}
	c.AddCommand(userAddCmd())
	c.AddCommand(userKeyCmd())
	c.AddCommand(userTokenCmd())
	return c
}

func userAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func userKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key <id>",
		Short: "Issue an API key (shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, err := e.IssueAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"user_id": args[0], "api_key": key})
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func userTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <id>",
		Short: "Sign a bearer token with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.SignToken(cfg.Auth.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

// --- items ---

func itemCmd() *cobra.Command {
	c := &cobra.Command{Use: "item", Short: "Manage offers and requests"}
	c.AddCommand(itemCreateCmd())
	c.AddCommand(itemListCmd())
	c.AddCommand(itemShowCmd())
	c.AddCommand(itemDeleteCmd())
	return c
}

func itemCreateCmd() *cobra.Command {
	var title, desc string
	cmd := &cobra.Command{
		Use:   "create <offer|request>",
		Short: "Post an offer or a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateItem(ctx, engine.CreateItemOptions{
					Kind:        kind,
					Title:       title,
					Description: desc,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list <offer|request>",
		Short: "List offers or requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			f.Status = domain.Status(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListItems(ctx, kind, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Creator", "Helpling", "Updated"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.Status, it.UserID, deref(it.HelplingID), it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, accepted, completed)")
	cmd.Flags().StringVar(&f.UserID, "participant", "", "creator or helpling filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <offer|request> <id>",
		Short: "Show an item with its comments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.FetchItem(ctx, kind, args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				owner := v.Item.UserID
				if v.User != nil && v.User.Name != "" {
					owner = v.User.Name
				}
				fmt.Printf("%s %s [%s] by %s\n", kind.Title(), v.Item.Title, v.Item.Status, owner)
				if v.Item.Description != "" {
					fmt.Println(v.Item.Description)
				}
				if v.Item.ThreadID != nil {
					fmt.Println("thread:", *v.Item.ThreadID)
				}
				if len(v.Comments) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Who", "Comment"})
				for _, c := range v.Comments {
					who := c.Comment.UserID
					if c.User != nil && c.User.Name != "" {
						who = c.User.Name
					}
					tw.AppendRow(table.Row{c.Comment.CreatedAt, who, c.Comment.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemDeleteCmd() *cobra.Command {
	var runHooks bool
	cmd := &cobra.Command{
		Use:   "delete <offer|request> <id>",
		Short: "Delete an item you created",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteItem(ctx, kind, args[1], actorID()); err != nil {
					return err
				}
				if runHooks {
					if _, err := rt.Pump.Drain(ctx); err != nil {
						return err
					}
				}
				fmt.Println("deleted", kind, args[1])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&runHooks, "cascade", true, "run cleanup hooks immediately")
	return cmd
}

// --- lifecycle ---

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <offer|request> <id>",
		Short: "Accept an item and open its thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Accept(ctx, kind, args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <offer|request> <id>",
		Short: "Mark an accepted item completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Complete(ctx, kind, args[1], actorID()); err != nil {
					return err
				}
				fmt.Println("completed", kind, args[1])
				return nil
			})
		},
	}
}

// --- comments, messages, threads ---

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Comment on items"}
	c.AddCommand(&cobra.Command{
		Use:   "add <offer|request> <id> <body>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cm, err := e.AddComment(ctx, kind, args[1], actorID(), args[2])
				if err != nil {
					return err
				}
				return printJSONOrTable(cm)
			})
		},
	})
	return c
}

func messageCmd() *cobra.Command {
	c := &cobra.Command{Use: "message", Short: "Message in a thread"}
	c.AddCommand(&cobra.Command{
		Use:   "send <thread-id> <body>",
		Short: "Send a message to the other participant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SendMessage(ctx, args[0], actorID(), args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	})
	return c
}

func threadCmd() *cobra.Command {
	c := &cobra.Command{Use: "thread", Short: "Inspect threads"}
	var limit int
	show := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.GetThread(ctx, args[0], actorID(), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("thread %s on %s %s (%s)\n", v.Thread.ID, v.Thread.ItemType, v.Thread.ItemID, strings.Join(v.Thread.UserIDs, ", "))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "Message"})
				for _, m := range v.Messages {
					tw.AppendRow(table.Row{m.CreatedAt, m.UserID, m.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
	show.Flags().IntVar(&limit, "limit", 100, "max messages")
	c.AddCommand(show)
	return c
}

// --- events and hooks ---

func eventsCmd() *cobra.Command {
	c := &cobra.Command{Use: "events", Short: "Run event hooks"}
	var consumer string
	var follow bool
	pump := &cobra.Command{
		Use:   "pump",
		Short: "Deliver pending events to the cleanup and activity hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if consumer != "" {
					rt.Pump.Consumer = consumer
				}
				if follow {
					return rt.Pump.Run(ctx)
				}
				n, err := rt.Pump.Drain(ctx)
				if viper.GetBool("json") {
					_ = printJSON(map[string]any{"consumer": rt.Pump.Consumer, "delivered": n})
				} else {
					fmt.Printf("delivered %d event(s) to %s\n", n, rt.Pump.Consumer)
				}
				return err
			})
		},
	}
	pump.Flags().StringVar(&consumer, "consumer", "", "cursor name (defaults to config hooks.consumer)")
	pump.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling until interrupted")
	c.AddCommand(pump)

	var limit int
	parked := &cobra.Command{
		Use:   "parked",
		Short: "List events the hooks gave up on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rows, err := rt.Pump.Repo.ParkedEvents(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "Cursor", "Attempts", "Parked", "Last error"})
				for _, f := range rows {
					tw.AppendRow(table.Row{f.EventID, f.Consumer, f.Attempts, deref(f.ParkedAt), f.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	parked.Flags().IntVar(&limit, "limit", 50, "max rows")
	c.AddCommand(parked)
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Repo.TailEvents(ctx, n, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func notificationsCmd() *cobra.Command {
	c := &cobra.Command{Use: "notifications", Short: "Inspect queued push notifications"}
	var ack bool
	pending := &cobra.Command{
		Use:   "pending <user-id>",
		Short: "List undelivered notifications for a user (redis sink only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rs, ok := rt.Sink.(*notify.RedisSink)
				if !ok {
					return fmt.Errorf("notification sink %q does not queue messages", rt.Config.Notifications.Sink)
				}
				topic := notify.Topic(args[0])
				envs, err := rs.Pending(ctx, topic)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(envs); err != nil {
						return err
					}
				} else {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Sent", "Title", "Body", "Link", "Collapse"})
					for _, env := range envs {
						n := env.Message.Notification
						tw.AppendRow(table.Row{env.SentAt.Format(time.RFC3339), n.Title, n.Body, env.Message.Data["deeplink"], env.CollapseKey})
					}
					tw.Render()
				}
				if ack {
					return rs.Ack(ctx, topic)
				}
				return nil
			})
		},
	}
	pending.Flags().BoolVar(&ack, "ack", false, "drop the listed notifications")
	c.AddCommand(pending)
	return c
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noHooks bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the event pump",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:       cfg.Auth.JWTSecret,
					AllowUserHeader: cfg.Auth.AllowUserHeader,
					DevLogin:        cfg.Auth.DevLogin,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowUserHeader {
					return fmt.Errorf("HELPLING_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
				}
				if authCfg.DevLogin {
					rt.Log.Warn().Msg("auth.dev_login is on: anyone can mint a token for any user")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Log:      rt.Log.With().Str("component", "http").Logger(),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					rt.Log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving helpling api (OpenAPI at /openapi.json, docs at " + basePath + "/docs)")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if !noHooks && !cfg.Hooks.Disabled {
					g.Go(func() error { return rt.Pump.Run(gctx) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config server.base_path)")
	cmd.Flags().BoolVar(&noHooks, "no-hooks", false, "do not run the event pump in-process")
	return cmd
}

// --- helpers ---

// loadConfig reads helpling.yml (or the defaults) and applies HELPLING_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("redis-url"); v != "" {
		cfg.Notifications.RedisURL = v
	}
	if v := viper.GetString("webhook-secret"); v != "" {
		cfg.Notifications.WebhookSecret = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("user-id"))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
