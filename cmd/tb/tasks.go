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
	"teamboard/internal/board"
	"teamboard/internal/domain"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskTagsCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func withScope(ctx context.Context, fn func(context.Context, session, app.Scope) error) error {
	return withEngine(ctx, func(ctx context.Context, s session) error {
		scope, err := app.ResolveScope(ctx, s.Engine, s.Config, viper.GetString("team"), viper.GetString("project"), s.Actor)
		if err != nil {
			return err
		}
		return fn(ctx, s, scope)
	})
}

func withTeam(ctx context.Context, fn func(context.Context, session, string) error) error {
	return withEngine(ctx, func(ctx context.Context, s session) error {
		teamID, err := app.ResolveTeam(ctx, s.Engine, s.Config, viper.GetString("team"), s.Actor)
		if err != nil {
			return err
		}
		return fn(ctx, s, teamID)
	})
}

func renderTasks(tasks []domain.BoardTask) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due", "Assignees", "Subtasks", "Tags"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, board.ColumnTitle(t.Status), t.Priority, dueString(t.DueDate), assigneeNames(t), subtaskProgress(t), tagNames(t)})
	}
	tw.Render()
}

func assigneeNames(t domain.BoardTask) string {
	names := make([]string, 0, len(t.AssignedTo))
	for _, u := range t.AssignedTo {
		names = append(names, u.Name())
	}
	return strings.Join(names, ", ")
}

func tagNames(t domain.BoardTask) string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.TagName)
	}
	return strings.Join(names, ", ")
}

func subtaskProgress(t domain.BoardTask) string {
	if len(t.Subtasks) == 0 {
		return ""
	}
	done := 0
	for _, s := range t.Subtasks {
		if s.Completed {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(t.Subtasks))
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active tasks of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, s session, scope app.Scope) error {
				tasks, err := s.Engine.ListProjectTasks(ctx, scope.ProjectID, scope.TeamID, s.Actor)
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
}

func taskCreateCmd() *cobra.Command {
	var desc, priority, due string
	var assignees, tags, subtasks []string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create task (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePriority(priority)
			if err != nil {
				return err
			}
			draft := domain.TaskDraft{
				Title:         args[0],
				Description:   desc,
				Priority:      p,
				AssignedToIDs: assignees,
				TagIDs:        tags,
				SubtaskTitles: subtasks,
			}
			if due != "" {
				if draft.DueDate = domain.ToDate(due); draft.DueDate == nil {
					return fmt.Errorf("invalid --due %q", due)
				}
			}
			return withScope(cmd.Context(), func(ctx context.Context, s session, scope app.Scope) error {
				draft.ProjectID = scope.ProjectID
				draft.TeamID = scope.TeamID
				t, err := s.Engine.CreateTask(ctx, draft, s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", string(domain.PriorityMedium), "low|medium|high")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringSliceVar(&assignees, "assign", nil, "assignee user ids")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag ids")
	cmd.Flags().StringSliceVar(&subtasks, "subtask", nil, "subtask titles")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with assignees, subtasks and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				t, err := s.Engine.GetTask(ctx, args[0], s.Actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, priority, due string
	var clearDue bool
	var assignees []string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &desc
			}
			if flags.Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				patch.Priority = &p
			}
			if flags.Changed("due") {
				if patch.DueDate = domain.ToDate(due); patch.DueDate == nil {
					return fmt.Errorf("invalid --due %q", due)
				}
			}
			patch.ClearDueDate = clearDue
			if flags.Changed("assign") {
				ids := append([]string{}, assignees...)
				patch.AssignedToIDs = &ids
			}
			if patch.IsEmpty() {
				return fmt.Errorf("nothing to update")
			}
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				t, err := s.Engine.UpdateTask(ctx, args[0], patch, s.Actor, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.Flags().StringSliceVar(&assignees, "assign", nil, "replace assignees (empty to clear)")
	cmd.MarkFlagsMutuallyExclusive("due", "clear-due")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <todo|in-progress|done>",
		Short: "Set task status directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				t, err := s.Engine.UpdateTaskStatus(ctx, args[0], status, s.Actor, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags <task-id> [tag-id...]",
		Short: "Replace task tags (admin only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				if err := s.Engine.SetTaskTags(ctx, args[0], args[1:], s.Actor, teamID); err != nil {
					return err
				}
				fmt.Println("tags updated")
				return nil
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete task (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				if err := s.Engine.DeleteTask(ctx, args[0], s.Actor, teamID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func subtaskCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subtask", Short: "Manage task checklists"}
	add := &cobra.Command{
		Use:   "add <task-id> <title>",
		Short: "Add a subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				st, err := s.Engine.AddSubtask(ctx, args[0], args[1], s.Actor, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	rename := &cobra.Command{
		Use:   "rename <task-id> <subtask-id> <title>",
		Short: "Rename a subtask",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				return s.Engine.RenameSubtask(ctx, args[1], args[0], args[2], s.Actor, teamID)
			})
		},
	}
	remove := &cobra.Command{
		Use:   "remove <task-id> <subtask-id>",
		Short: "Remove a subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				return s.Engine.RemoveSubtask(ctx, args[1], args[0], s.Actor, teamID)
			})
		},
	}
	var undo bool
	done := &cobra.Command{
		Use:   "done <task-id> <subtask-id>",
		Short: "Tick a subtask (or untick with --undo)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				status, err := s.Engine.SetSubtaskCompletion(ctx, args[1], args[0], !undo, s.Actor, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"subtask_id": args[1], "completed": !undo, "task_status": status})
			})
		},
	}
	done.Flags().BoolVar(&undo, "undo", false, "mark as not completed")
	sub.AddCommand(add, rename, remove, done)
	return sub
}

func archiveCmd() *cobra.Command {
	arch := &cobra.Command{Use: "archive", Short: "Archive and restore tasks"}
	task := &cobra.Command{
		Use:   "task <task-id>",
		Short: "Archive one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				t, err := s.Engine.ArchiveTask(ctx, args[0], s.Actor, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	restore := &cobra.Command{
		Use:   "restore <task-id>",
		Short: "Return an archived task to the board (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTeam(cmd.Context(), func(ctx context.Context, s session, teamID string) error {
				t, err := s.Engine.UnarchiveTask(ctx, args[0], s.Actor, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	done := &cobra.Command{
		Use:   "done",
		Short: "Archive every done task of the project (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, s session, scope app.Scope) error {
				n, err := s.Engine.ArchiveAllDone(ctx, scope.ProjectID, s.Actor, scope.TeamID)
				if err != nil {
					return err
				}
				fmt.Printf("archived %d task(s)\n", n)
				return nil
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, s session, scope app.Scope) error {
				tasks, err := s.Engine.ListArchived(ctx, scope.ProjectID, s.Actor, scope.TeamID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Archived At", "Archived By"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, deref(t.ArchivedAt), deref(t.ArchivedBy)})
				}
				tw.Render()
				return nil
			})
		},
	}
	arch.AddCommand(task, restore, done, list)
	return arch
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
