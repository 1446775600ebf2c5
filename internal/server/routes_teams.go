package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"teamboard/internal/domain"
	"teamboard/internal/engine"
)

type TeamParams struct {
	TeamID string `path:"team_id"`
}

type MemberParams struct {
	TeamID string `path:"team_id"`
	UserID string `path:"user_id"`
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List teams the caller belongs to",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Team], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		teams, err := e.ListTeams(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(teams))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/teams",
		Summary:       "Create a team with the caller as admin",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateTeamRequest `json:"body"`
	}) (*output[domain.Team], error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		email := input.Body.Email
		if email == "" {
			email = principal.Email
		}
		name := input.Body.DisplayName
		if name == "" {
			name = principal.Name
		}
		team, err := e.CreateTeam(ctx, input.Body.Name, domain.User{UID: principal.UserID, Email: email, DisplayName: name})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(team)
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-team",
		Method:      http.MethodPatch,
		Path:        "/teams/{team_id}",
		Summary:     "Rename team",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamParams
		Body RenameTeamRequest `json:"body"`
	}) (*output[domain.Team], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		team, err := e.RenameTeam(ctx, input.TeamID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(team)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-invite",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/invites",
		Summary:       "Create an invitation code",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[domain.Invite], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.CreateInvite(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(inv)
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-team",
		Method:      http.MethodPost,
		Path:        "/invites/join",
		Summary:     "Join a team with an invitation code",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusGone},
	}, func(ctx context.Context, input *struct {
		Body JoinTeamRequest `json:"body"`
	}) (*output[domain.TeamMember], error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		email := input.Body.Email
		if email == "" {
			email = principal.Email
		}
		name := input.Body.DisplayName
		if name == "" {
			name = principal.Name
		}
		m, err := e.JoinTeam(ctx, input.Body.Code, domain.User{UID: principal.UserID, Email: email, DisplayName: name})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(m)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/members",
		Summary:     "List team members",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[[]domain.User], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.ListMembers(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(users))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-memberships",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/memberships",
		Summary:     "List team memberships with roles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[[]domain.TeamMember], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		members, err := e.ListMemberships(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(members))
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-member",
		Method:      http.MethodPut,
		Path:        "/teams/{team_id}/members/{user_id}",
		Summary:     "Add a member or change their role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		MemberParams
		Body UpsertMemberRequest `json:"body"`
	}) (*output[domain.TeamMember], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		u := domain.User{UID: input.UserID, Email: input.Body.Email, DisplayName: input.Body.DisplayName}
		m, err := e.AddMember(ctx, input.TeamID, u, role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(m)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-member",
		Method:        http.MethodDelete,
		Path:          "/teams/{team_id}/members/{user_id}",
		Summary:       "Remove a member or leave the team",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *MemberParams) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveMember(ctx, input.TeamID, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-role",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/role",
		Summary:     "Caller's role in the team",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[RoleResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := e.MemberRole(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(RoleResponse{TeamID: input.TeamID, UserID: actorID, Role: role})
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[[]domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projects, err := e.ListProjects(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(projects))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-archived-projects",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/projects/archived",
		Summary:     "List archived projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[[]domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projects, err := e.ListArchivedProjects(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(projects))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TeamParams
		Body CreateProjectRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, input.TeamID, input.Body.Name, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project name, description or links",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := domain.ProjectPatch{Name: input.Body.Name, Description: input.Body.Description}
		if _, present := rawBodyMap(ctx)["urls"]; present {
			urls := nonNilSlice(input.Body.URLs)
			patch.URLs = &urls
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, patch, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p)
	})

	for _, op := range []struct {
		id, verb, summary string
		apply             func(context.Context, string, string) (domain.Project, error)
	}{
		{"archive-project", "archive", "Archive project", e.ArchiveProject},
		{"unarchive-project", "unarchive", "Restore an archived project", e.UnarchiveProject},
	} {
		apply := op.apply
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/" + op.verb,
			Summary:     op.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
		}) (*output[domain.Project], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := apply(ctx, input.ProjectID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return ok(p)
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project and its tasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerTags(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/tags",
		Summary:     "List team tags",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *TeamParams) (*output[[]domain.Tag], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tags, err := e.ListTags(ctx, input.TeamID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(nonNilSlice(tags))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/tags",
		Summary:       "Create tag",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TeamParams
		Body CreateTagRequest `json:"body"`
	}) (*output[domain.Tag], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tag, err := e.CreateTag(ctx, input.TeamID, input.Body.TagName, input.Body.Color, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(tag)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-tag",
		Method:        http.MethodDelete,
		Path:          "/tags/{tag_id}",
		Summary:       "Delete tag",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TagID string `path:"tag_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTag(ctx, input.TagID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key for the caller",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*output[CreatedAPIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := e.CreateAPIKey(ctx, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(CreatedAPIKeyResponse{APIKeyResponse: apiKeyResponse(key), Key: plain})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List the caller's API keys",
	}, func(ctx context.Context, _ *struct{}) (*output[[]APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return ok(out)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
