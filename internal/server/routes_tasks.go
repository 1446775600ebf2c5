package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"teamboard/internal/domain"
	"teamboard/internal/engine"
	"teamboard/internal/repo"
)

type TaskParams struct {
	TeamID string `path:"team_id"`
	TaskID string `path:"task_id"`
}

type SubtaskParams struct {
	TeamID    string `path:"team_id"`
	TaskID    string `path:"task_id"`
	SubtaskID string `path:"subtask_id"`
}

type ProjectParams struct {
	TeamID    string `path:"team_id"`
	ProjectID string `path:"project_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-project-tasks",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/projects/{project_id}/tasks",
		Summary:     "List active tasks of a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectParams) (*output[[]TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListProjectTasks(ctx, input.ProjectID, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapBoardTasks(tasks))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamParams
		Body CreateTaskRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		priority, err := domain.ParsePriority(input.Body.Priority)
		if err != nil {
			return nil, handleError(err)
		}
		draft := domain.TaskDraft{
			ProjectID:     input.Body.ProjectID,
			TeamID:        input.TeamID,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Priority:      priority,
			AssignedToIDs: input.Body.AssignedToIDs,
			TagIDs:        input.Body.TagIDs,
			SubtaskTitles: input.Body.Subtasks,
		}
		if input.Body.DueDate != nil && strings.TrimSpace(*input.Body.DueDate) != "" {
			due, err := parseDue(*input.Body.DueDate)
			if err != nil {
				return nil, handleError(err)
			}
			draft.DueDate = due
		}
		t, err := e.CreateTask(ctx, draft, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(taskResponse(t))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task with assignees, subtasks and tags",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(boardTaskResponse(t))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/teams/{team_id}/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskParams
		Body UpdateTaskRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch, err := taskPatch(rawBodyMap(ctx), input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.UpdateTask(ctx, input.TaskID, patch, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(taskResponse(t))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPut,
		Path:        "/teams/{team_id}/tasks/{task_id}/status",
		Summary:     "Move task to a column",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskParams
		Body UpdateStatusRequest `json:"body"`
	}) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status, err := domain.ParseStatus(input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, status, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(taskResponse(t))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-task-tags",
		Method:        http.MethodPut,
		Path:          "/teams/{team_id}/tasks/{task_id}/tags",
		Summary:       "Replace task tags",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskParams
		Body SetTagsRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetTaskTags(ctx, input.TaskID, input.Body.TagIDs, actorID, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/teams/{team_id}/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskParams) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, actorID, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

// taskPatch builds a patch from the decoded body, using the raw map to tell
// an explicit null due_date from an absent one.
func taskPatch(raw map[string]json.RawMessage, body UpdateTaskRequest) (domain.TaskPatch, error) {
	patch := domain.TaskPatch{
		Title:       body.Title,
		Description: body.Description,
	}
	if body.Priority != nil {
		p, err := domain.ParsePriority(*body.Priority)
		if err != nil {
			return patch, err
		}
		patch.Priority = &p
	}
	if v, present := raw["due_date"]; present {
		if isNullRaw(v) || body.DueDate == nil || strings.TrimSpace(*body.DueDate) == "" {
			patch.ClearDueDate = true
		} else {
			due, err := parseDue(*body.DueDate)
			if err != nil {
				return patch, err
			}
			patch.DueDate = due
		}
	}
	if _, present := raw["assigned_to_ids"]; present {
		ids := nonNilSlice(body.AssignedToIDs)
		patch.AssignedToIDs = &ids
	}
	if patch.IsEmpty() {
		return patch, domain.ValidationError{Field: "body", Reason: "no fields to update"}
	}
	return patch, nil
}

func registerSubtasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-subtask",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/tasks/{task_id}/subtasks",
		Summary:       "Add subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskParams
		Body SubtaskRequest `json:"body"`
	}) (*output[domain.Subtask], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSubtask(ctx, input.TaskID, input.Body.Title, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(s)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "rename-subtask",
		Method:        http.MethodPatch,
		Path:          "/teams/{team_id}/tasks/{task_id}/subtasks/{subtask_id}",
		Summary:       "Rename subtask",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubtaskParams
		Body SubtaskRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RenameSubtask(ctx, input.SubtaskID, input.TaskID, input.Body.Title, actorID, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-completion",
		Method:      http.MethodPut,
		Path:        "/teams/{team_id}/tasks/{task_id}/subtasks/{subtask_id}/completion",
		Summary:     "Toggle subtask completion and re-derive task status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SubtaskParams
		Body CompletionRequest `json:"body"`
	}) (*output[SubtaskCompletionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status, err := e.SetSubtaskCompletion(ctx, input.SubtaskID, input.TaskID, input.Body.Completed, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(SubtaskCompletionResponse{Subtask: input.SubtaskID, Completed: input.Body.Completed, TaskStatus: status})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-subtask",
		Method:        http.MethodDelete,
		Path:          "/teams/{team_id}/tasks/{task_id}/subtasks/{subtask_id}",
		Summary:       "Remove subtask",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SubtaskParams) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveSubtask(ctx, input.SubtaskID, input.TaskID, actorID, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerArchive(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "archive-task",
		Method:      http.MethodPost,
		Path:        "/teams/{team_id}/tasks/{task_id}/archive",
		Summary:     "Archive task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *TaskParams) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ArchiveTask(ctx, input.TaskID, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(taskResponse(t))
	})

	huma.Register(api, huma.Operation{
		OperationID: "unarchive-task",
		Method:      http.MethodPost,
		Path:        "/teams/{team_id}/tasks/{task_id}/unarchive",
		Summary:     "Restore an archived task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *TaskParams) (*output[TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UnarchiveTask(ctx, input.TaskID, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(taskResponse(t))
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-done",
		Method:      http.MethodPost,
		Path:        "/teams/{team_id}/projects/{project_id}/archive-done",
		Summary:     "Archive every done task of a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectParams) (*output[ArchiveDoneResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ArchiveAllDone(ctx, input.ProjectID, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ArchiveDoneResponse{Archived: n, Limit: engine.ArchiveBatchLimit})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-archived",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/projects/{project_id}/archived",
		Summary:     "List archived tasks, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectParams) (*output[[]TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListArchived(ctx, input.ProjectID, actorID, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapBoardTasks(tasks))
	})
}

func registerDashboards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-tasks",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/dashboard/tasks",
		Summary:     "Active tasks assigned to a user",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TeamParams
		UserID string `query:"user_id"`
	}) (*output[[]TaskResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.UserTasks(ctx, input.TeamID, input.UserID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapBoardTasks(tasks))
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-projects",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/dashboard/projects",
		Summary:     "Task counts per project",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[[]ProjectCountsResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.ProjectCounts(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(counts))
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/events",
		Summary:     "Team activity, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TeamParams
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		ProjectID  string `query:"project_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cursor int64
		if input.Cursor != "" {
			v, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursor = v
		}
		limit := normalizeLimit(input.Limit)
		filters := repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		}
		// Fetch one extra row to know whether another page exists.
		evts, _, err := e.Activity(ctx, input.TeamID, filters, limit+1, cursor, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := paginatedEvents{Items: []EventResponse{}}
		if len(evts) > limit {
			evts = evts[:limit]
			res.NextCursor = strconv.FormatInt(evts[len(evts)-1].ID, 10)
		}
		for _, ev := range evts {
			res.Items = append(res.Items, eventResponse(ev))
		}
		return ok(res)
	})
}
