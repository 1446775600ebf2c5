package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamboard/internal/cache"
	"teamboard/internal/config"
	"teamboard/internal/db"
	"teamboard/internal/engine"
	"teamboard/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Teamboard CLI",
	Long: `Teamboard is a team kanban board.
Core concepts:
- Team: people with a role each (admin or member); admins manage projects, tags and membership.
- Project: a board of tasks inside a team.
- Task: a card in one of three columns: todo, in-progress, done.
- Subtasks: a checklist on a task; ticking them moves the task (none done: todo, some: in-progress, all: done).
- Archive: done work leaves the board but stays listed under 'tb archive list'.
- Workspace: the .teamboard directory holding the database, next to teamboard.yml and .env.
- Remote mode: pass --server to drive a running 'tb serve' instead of the local database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("server") != "" {
			return nil
		}
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	// A missing .env is fine; variables already in the environment win.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("TEAMBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		logrus.SetLevel(lvl)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "acting user id (defaults to teamboard.yml defaults.user)")
	flags.String("team", "", "team id (overrides config default)")
	flags.String("project", "", "project id (overrides config default)")
	flags.String("server", "", "base URL of a teamboard server; enables remote mode")
	flags.String("token", "", "bearer token for remote mode")
	flags.String("api-key", "", "API key for remote mode")
	flags.String("log-level", "warning", "log level")
	for _, name := range []string{"workspace", "json", "actor-id", "team", "project", "server", "token", "api-key", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func logger() logrus.FieldLogger {
	return logrus.StandardLogger()
}

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

// actorID returns the acting user from the flag, then the workspace config.
func actorID(cfg *config.Config) (string, error) {
	if id := strings.TrimSpace(viper.GetString("actor-id")); id != "" {
		return id, nil
	}
	if cfg != nil && strings.TrimSpace(cfg.Defaults.User) != "" {
		return cfg.Defaults.User, nil
	}
	return "", fmt.Errorf("acting user unknown; pass --actor-id or run `tb init --user <id>`")
}

type session struct {
	Engine engine.Engine
	Config *config.Config
	Actor  string
}

func withEngine(ctx context.Context, fn func(context.Context, session) error) error {
	if viper.GetString("server") != "" {
		return fmt.Errorf("command only runs against a local workspace; drop --server")
	}
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	actor, err := actorID(cfg)
	if err != nil {
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
	if cfg.Cache.RedisAddr != "" {
		c, err := cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.CacheTTL(), logger())
		if err != nil {
			logger().WithError(err).Warn("redis unavailable, running without cache")
		} else {
			defer c.Close()
			e.Cache = c
		}
	}
	return fn(ctx, session{Engine: e, Config: cfg, Actor: actor})
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
