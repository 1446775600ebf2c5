package main

import (
	"context"
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

	"teamboard/internal/cache"
	"teamboard/internal/config"
	"teamboard/internal/db"
	"teamboard/internal/domain"
	"teamboard/internal/engine"
	"teamboard/internal/migrate"
	"teamboard/internal/repo"
	"teamboard/internal/server"
)

func dashboardCmd() *cobra.Command {
	dash := &cobra.Command{Use: "dashboard", Short: "Team dashboards"}
	var user string
	mine := &cobra.Command{
		Use:   "tasks",
		Short: "Active tasks assigned to you (or --user, admins only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				tasks, err := s.Engine.UserTasks(ctx, teamID, user, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTasks(tasks)
				return nil
			})
		},
	}
	mine.Flags().StringVar(&user, "user", "", "user id to inspect")
	projects := &cobra.Command{
		Use:   "projects",
		Short: "Task counts per project (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				rows, err := s.Engine.ProjectCounts(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "All", "To Do", "In Progress", "Done"})
				var total domain.TaskCounts
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Project.Name, r.Counts.All, r.Counts.Todo, r.Counts.InProgress, r.Counts.Done})
					total.All += r.Counts.All
					total.Todo += r.Counts.Todo
					total.InProgress += r.Counts.InProgress
					total.Done += r.Counts.Done
				}
				tw.AppendFooter(table.Row{"Total", total.All, total.Todo, total.InProgress, total.Done})
				tw.Render()
				return nil
			})
		},
	}
	dash.AddCommand(mine, projects)
	return dash
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Activity log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var cursor int64
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail team events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				events, next, err := s.Engine.Activity(ctx, teamID, f, n, cursor, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": events, "next_cursor": next})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				if next > 0 {
					fmt.Printf("more: --cursor %d\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "show events older than this id")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ProjectID, "project-id", "", "project filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			secret := strings.TrimSpace(viper.GetString("jwt-secret"))
			if secret == "" {
				return fmt.Errorf("TEAMBOARD_JWT_SECRET is required for bearer auth")
			}
			log := logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(ctx, conn); err != nil {
				return err
			}
			e := engine.New(conn)
			c, err := cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.CacheTTL(), log)
			if err != nil {
				log.WithError(err).Warn("redis unavailable, running without cache")
			} else {
				defer c.Close()
				e.Cache = c
			}

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Logger:   log,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
					DevLogin:               devLogin,
					Logger:                 log,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, e, cfg.Webhooks, log)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Teamboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the DEV ONLY token minting endpoint")
	return cmd
}
