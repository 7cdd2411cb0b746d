package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/repo"
	"deskline/internal/scanner"
)

func registerNotifications(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListNotifications(ctx, actor, input.Unread, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark notification read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkNotificationRead(ctx, input.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-notifications",
		Method:      http.MethodDelete,
		Path:        "/notifications",
		Summary:     "Clear my notifications",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ClearNotifications(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"deleted": n}}, nil
	})
}

func registerActivities(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "Tail the audit trail",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Type   string `query:"type"`
		Action string `query:"action"`
		Target string `query:"target"`
	}) (*struct {
		Body []repo.ActivityRecord `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ActivityLog(ctx, normalizeLimit(input.Limit), input.Type, input.Action, input.Target, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []repo.ActivityRecord{}
		}
		return &struct {
			Body []repo.ActivityRecord `json:"body"`
		}{Body: items}, nil
	})
}

func registerAdmin(api huma.API, e *engine.Engine, sc *scanner.Scanner) {
	huma.Register(api, huma.Operation{
		OperationID: "run-expiry-scan",
		Method:      http.MethodPost,
		Path:        "/admin/expiry/run",
		Summary:     "Run one expiry scan now",
		Errors:      []int{http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scanner.Report `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin || !actor.IsActive {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		if sc == nil {
			sc = scanner.New(e)
		}
		report, err := sc.RunTick(ctx, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scanner.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin || !actor.IsActive {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := e.Repo.GetUser(ctx, input.Body.UserID); err != nil {
			return nil, handleError(err)
		}
		// The raw key is shown once; only its hash is stored.
		raw := uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    input.Body.UserID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Revoke an API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin || !actor.IsActive {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
