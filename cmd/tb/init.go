package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamboard/internal/config"
	"teamboard/internal/db"
	"teamboard/internal/domain"
)

func initCmd() *cobra.Command {
	var user, email, name, team, project string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace, optionally with a first team and project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := config.Default(user).Save(workspace); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			if err := ensureJWTSecret(filepath.Join(workspace, ".env")); err != nil {
				return err
			}
			if team == "" {
				return nil
			}
			viper.Set("actor-id", user)
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				t, err := s.Engine.CreateTeam(ctx, team, domain.User{UID: s.Actor, Email: email, DisplayName: name})
				if err != nil {
					return err
				}
				s.Config.Defaults.Team = t.ID
				if project != "" {
					p, err := s.Engine.CreateProject(ctx, t.ID, project, "", s.Actor)
					if err != nil {
						return err
					}
					s.Config.Defaults.Project = p.ID
				}
				if err := s.Config.Save(workspace); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"team_id": t.ID, "project_id": s.Config.Defaults.Project})
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "default acting user id")
	cmd.Flags().StringVar(&email, "email", "", "email of the acting user")
	cmd.Flags().StringVar(&name, "name", "", "display name of the acting user")
	cmd.Flags().StringVar(&team, "team-name", "", "create a team with this name")
	cmd.Flags().StringVar(&project, "project-name", "", "create a project with this name in the new team")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// ensureJWTSecret adds TEAMBOARD_JWT_SECRET to the workspace .env when absent.
func ensureJWTSecret(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	if env["TEAMBOARD_JWT_SECRET"] != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	env["TEAMBOARD_JWT_SECRET"] = hex.EncodeToString(buf)
	return godotenv.Write(env, path)
}
