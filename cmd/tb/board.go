package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamboard/internal/app"
	"teamboard/internal/board"
	"teamboard/internal/domain"
	teamboardsdk "teamboard/sdk/go"
)

type boardPort interface {
	board.Remote
	board.Editor
}

// withBoard loads a board for the active project, either from the local
// workspace or from --server, and refreshes it once.
func withBoard(ctx context.Context, fn func(context.Context, *board.Board) error) error {
	if viper.GetString("server") != "" {
		return withRemoteBoard(ctx, fn)
	}
	return withScope(ctx, func(ctx context.Context, s session, scope app.Scope) error {
		role, err := s.Engine.MemberRole(ctx, scope.TeamID, s.Actor)
		if err != nil {
			return err
		}
		remote := app.LocalRemote{Engine: s.Engine, Actor: s.Actor}
		return runBoard(ctx, remote, scope, board.Actor{UserID: s.Actor, Role: role}, fn)
	})
}

func withRemoteBoard(ctx context.Context, fn func(context.Context, *board.Board) error) error {
	client := teamboardsdk.New(viper.GetString("server"))
	client.BearerToken = viper.GetString("token")
	client.APIKey = viper.GetString("api-key")
	client.ActorID = viper.GetString("actor-id")
	me, err := client.Me(ctx)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scope := app.Scope{TeamID: viper.GetString("team"), ProjectID: viper.GetString("project")}
	if scope.TeamID == "" {
		scope.TeamID = cfg.Defaults.Team
	}
	if scope.TeamID == "" && len(me.Teams) == 1 {
		scope.TeamID = me.Teams[0].ID
	}
	if scope.TeamID == "" {
		return fmt.Errorf("%w: pass --team", app.ErrAmbiguousScope)
	}
	if scope.ProjectID == "" {
		scope.ProjectID = cfg.Defaults.Project
	}
	if scope.ProjectID == "" {
		projects, err := client.Projects(ctx, scope.TeamID)
		if err != nil {
			return err
		}
		if len(projects) != 1 {
			return fmt.Errorf("%w: %d projects; pass --project", app.ErrAmbiguousScope, len(projects))
		}
		scope.ProjectID = projects[0].ID
	}
	role, err := client.Role(ctx, scope.TeamID)
	if err != nil {
		return err
	}
	return runBoard(ctx, client, scope, board.Actor{UserID: me.UserID, Role: role}, fn)
}

func runBoard(ctx context.Context, port boardPort, scope app.Scope, actor board.Actor, fn func(context.Context, *board.Board) error) error {
	b, err := board.New(port, board.Config{
		ProjectID: scope.ProjectID,
		TeamID:    scope.TeamID,
		Actor:     actor,
		Editor:    port,
		Notifier:  board.NotifierFunc(printNotification),
		Logger:    logger(),
	})
	if err != nil {
		return err
	}
	if err := b.RefreshTasks(ctx); err != nil {
		return err
	}
	if err := fn(ctx, b); err != nil {
		return err
	}
	b.Wait()
	if msg := b.Error(); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func printNotification(n board.Notification) {
	if viper.GetBool("json") || n.Level == board.LevelInfo {
		return
	}
	prefix := text.FgGreen.Sprint("ok")
	if n.Level == board.LevelError {
		prefix = text.FgRed.Sprint("error")
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, n.Message)
}

func boardCmd() *cobra.Command {
	b := &cobra.Command{Use: "board", Short: "Show and drive the project board"}
	b.AddCommand(boardShowCmd())
	b.AddCommand(boardMoveCmd())
	b.AddCommand(boardToggleCmd())
	b.AddCommand(boardArchiveCmd())
	b.AddCommand(boardEditCmd())
	return b
}

func boardShowCmd() *cobra.Command {
	var search string
	var users, tags []string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the board columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *board.Board) error {
				b.SetFilter(board.Filter{SearchQuery: search, AssignedUserIDs: users, TagIDs: tags})
				cols := b.Columns()
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				renderColumns(cols, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "match title or description")
	cmd.Flags().StringSliceVar(&users, "user", nil, "only tasks assigned to any of these users")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only tasks with any of these tags")
	return cmd
}

func renderColumns(cols []board.Column, now time.Time) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{}
	depth := 0
	for _, c := range cols {
		header = append(header, fmt.Sprintf("%s (%d)", c.Title, len(c.Tasks)))
		if len(c.Tasks) > depth {
			depth = len(c.Tasks)
		}
	}
	tw.AppendHeader(header)
	for i := 0; i < depth; i++ {
		row := table.Row{}
		for _, c := range cols {
			if i < len(c.Tasks) {
				row = append(row, card(c.Tasks[i], now))
			} else {
				row = append(row, "")
			}
		}
		tw.AppendRow(row)
		tw.AppendSeparator()
	}
	tw.Render()
}

func card(t domain.BoardTask, now time.Time) string {
	lines := []string{fmt.Sprintf("%s [%s]", t.Title, t.Priority), text.FgHiBlack.Sprint(t.ID)}
	if due := dueString(t.DueDate); due != "" {
		switch domain.DueStateAt(t.DueDate, now) {
		case domain.DueOverdue:
			due = text.FgRed.Sprint(due + " overdue")
		case domain.DueSoon:
			due = text.FgYellow.Sprint(due + " soon")
		}
		lines = append(lines, "due "+due)
	}
	if p := subtaskProgress(t); p != "" {
		lines = append(lines, "subtasks "+p)
	}
	if a := assigneeNames(t); a != "" {
		lines = append(lines, "@ "+a)
	}
	if tags := tagNames(t); tags != "" {
		lines = append(lines, "# "+tags)
	}
	return strings.Join(lines, "\n")
}

func dueString(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format("2006-01-02")
}

func boardMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <task-id> <todo|in-progress|done>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *board.Board) error {
				t, ok := b.Store().Task(args[0])
				if !ok {
					return board.ErrTaskNotFound
				}
				return b.HandleDragEnd(ctx, string(t.Status), args[1], t.ID, 0, 0)
			})
		},
	}
}

func boardToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <task-id> <subtask-id>",
		Short: "Flip a subtask's completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *board.Board) error {
				t, ok := b.Store().Task(args[0])
				if !ok {
					return board.ErrTaskNotFound
				}
				for _, s := range t.Subtasks {
					if s.ID == args[1] {
						return b.HandleSubtaskToggle(ctx, t.ID, s.ID, !s.Completed)
					}
				}
				return board.ErrSubtaskNotFound
			})
		},
	}
}

func boardArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <task-id>",
		Short: "Archive a task from the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *board.Board) error {
				return b.Archive(ctx, args[0])
			})
		},
	}
}

func boardEditCmd() *cobra.Command {
	var title string
	var tags, add, remove []string
	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Save several task edits at once (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edit := board.TaskEdit{TaskID: args[0], AddSubtasks: add, RemoveSubtasks: remove}
			if cmd.Flags().Changed("title") {
				edit.Patch.Title = &title
			}
			if cmd.Flags().Changed("tag") {
				ids := append([]string{}, tags...)
				edit.TagIDs = &ids
			}
			return withBoard(cmd.Context(), func(ctx context.Context, b *board.Board) error {
				return b.SaveTaskEdits(ctx, edit)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	cmd.Flags().StringSliceVar(&add, "add-subtask", nil, "subtask titles to add")
	cmd.Flags().StringSliceVar(&remove, "remove-subtask", nil, "subtask ids to remove")
	return cmd
}
