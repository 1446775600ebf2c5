package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamboard/internal/app"
	"teamboard/internal/domain"
)

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}
	team.AddCommand(teamListCmd())
	team.AddCommand(teamCreateCmd())
	team.AddCommand(teamUseCmd())
	team.AddCommand(teamRoleCmd())
	team.AddCommand(teamRenameCmd())
	team.AddCommand(teamInviteCmd())
	team.AddCommand(teamJoinCmd())
	return team
}

func teamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teams, err := s.Engine.ListTeams(ctx, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(teams)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created By", "Created At"})
				for _, t := range teams {
					tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedBy, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func teamCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a team; you become its admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				t, err := s.Engine.CreateTeam(ctx, args[0], domain.User{UID: s.Actor, Email: email, DisplayName: name})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "your email")
	cmd.Flags().StringVar(&name, "name", "", "your display name")
	return cmd
}

func teamUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <team-id>",
		Short: "Set the default team in teamboard.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.Engine.MemberRole(ctx, args[0], s.Actor); err != nil {
					return err
				}
				s.Config.Defaults.Team = args[0]
				s.Config.Defaults.Project = ""
				if err := s.Config.Save(viper.GetString("workspace")); err != nil {
					return err
				}
				fmt.Println("default team set to", args[0])
				return nil
			})
		},
	}
}

func teamRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role",
		Short: "Show your role in the team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				role, err := s.Engine.MemberRole(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"team_id": teamID, "user_id": s.Actor, "role": string(role)})
			})
		},
	}
}

func teamRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name>",
		Short: "Rename the team (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				t, err := s.Engine.RenameTeam(ctx, teamID, args[0], s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func teamInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite",
		Short: "Create an invitation code valid for 24h (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				inv, err := s.Engine.CreateInvite(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
}

func teamJoinCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a team with an invitation code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				m, err := s.Engine.JoinTeam(ctx, args[0], domain.User{UID: s.Actor, Email: email, DisplayName: name})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "your email")
	cmd.Flags().StringVar(&name, "name", "", "your display name")
	return cmd
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage team membership"}
	member.AddCommand(memberListCmd())
	member.AddCommand(memberAddCmd())
	member.AddCommand(memberRemoveCmd())
	return member
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members and roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				members, err := s.Engine.ListMemberships(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				users, err := s.Engine.ListMembers(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				names := make(map[string]string, len(users))
				for _, u := range users {
					names[u.UID] = u.Name()
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Name", "Role", "Joined"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.UserID, names[m.UserID], m.Role, m.JoinedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func memberAddCmd() *cobra.Command {
	var role, email, name string
	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add a member or change their role (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				m, err := s.Engine.AddMember(ctx, teamID, domain.User{UID: args[0], Email: email, DisplayName: name}, r, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleMember), "admin|member")
	cmd.Flags().StringVar(&email, "email", "", "member email")
	cmd.Flags().StringVar(&name, "name", "", "member display name")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a member; remove yourself to leave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				if err := s.Engine.RemoveMember(ctx, teamID, args[0], s.Actor); err != nil {
					return err
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage your profile"}
	var email, name string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update your email or display name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				u, err := s.Engine.UpsertUser(ctx, domain.User{UID: s.Actor, Email: email, DisplayName: name}, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	set.Flags().StringVar(&email, "email", "", "email")
	set.Flags().StringVar(&name, "name", "", "display name")
	show := &cobra.Command{
		Use:   "show [user-id]",
		Short: "Show a user profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				uid := s.Actor
				if len(args) == 1 {
					uid = args[0]
				}
				u, err := s.Engine.GetUser(ctx, uid)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	user.AddCommand(set, show)
	return user
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectArchiveCmd(), projectRestoreCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects of the team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				list := s.Engine.ListProjects
				if archived {
					list = s.Engine.ListArchivedProjects
				}
				items, err := list(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Description", "Links", "Updated At"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Description, len(p.URLs), p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived projects instead")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, desc string
	var links []string
	var clearLinks bool
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Change name, description or links (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.ProjectPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &desc
			}
			if clearLinks || len(links) > 0 {
				urls := make([]domain.ProjectURL, 0, len(links))
				for _, l := range links {
					label, link, found := strings.Cut(l, "=")
					if !found {
						return fmt.Errorf("invalid --url %q: want label=link", l)
					}
					urls = append(urls, domain.ProjectURL{Label: label, Link: link})
				}
				patch.URLs = &urls
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				p, err := s.Engine.UpdateProject(ctx, args[0], patch, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().StringArrayVar(&links, "url", nil, "label=link, repeatable; replaces all links")
	cmd.Flags().BoolVar(&clearLinks, "clear-urls", false, "remove all links")
	return cmd
}

func projectArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <project-id>",
		Short: "Archive a project (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				p, err := s.Engine.ArchiveProject(ctx, args[0], s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <project-id>",
		Short: "Restore an archived project (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				p, err := s.Engine.UnarchiveProject(ctx, args[0], s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var desc string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create project (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				p, err := s.Engine.CreateProject(ctx, teamID, args[0], desc, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				scope, err := app.ResolveScope(ctx, s.Engine, s.Config, viper.GetString("team"), viper.GetString("project"), s.Actor)
				if err != nil {
					return err
				}
				p, err := s.Engine.GetProject(ctx, scope.ProjectID, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and all of its tasks (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.Engine.DeleteProject(ctx, args[0], s.Actor); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <project-id>",
		Short: "Set the default project in teamboard.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				p, err := s.Engine.GetProject(ctx, args[0], s.Actor)
				if err != nil {
					return err
				}
				s.Config.Defaults.Team = p.TeamID
				s.Config.Defaults.Project = p.ID
				if err := s.Config.Save(viper.GetString("workspace")); err != nil {
					return err
				}
				fmt.Println("default project set to", p.ID)
				return nil
			})
		},
	}
}

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage team tags"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				tags, err := s.Engine.ListTags(ctx, teamID, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tags)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Color"})
				for _, t := range tags {
					tw.AppendRow(table.Row{t.ID, t.TagName, t.Color})
				}
				tw.Render()
				return nil
			})
		},
	}
	var color string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tag (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
				if err != nil {
					return err
				}
				t, err := s.Engine.CreateTag(ctx, teamID, args[0], color, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&color, "color", "#808080", "#rrggbb color")
	del := &cobra.Command{
		Use:   "delete <tag-id>",
		Short: "Delete a tag and unlink it from tasks (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.Engine.DeleteTag(ctx, args[0], s.Actor); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	tag.AddCommand(list, create, del)
	return tag
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage your API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				k, plain, err := s.Engine.CreateAPIKey(ctx, name, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": k.ID, "name": k.Name, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				items, err := s.Engine.ListAPIKeys(ctx, s.Actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created At"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.Engine.RevokeAPIKey(ctx, args[0], s.Actor); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	keys.AddCommand(create, list, revoke)
	return keys
}
