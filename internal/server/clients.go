package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/lifecycle"
	"deskline/internal/repo"
)

func registerClients(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		client, err := e.CreateClient(ctx, lifecycle.CreateClientInput{
			ID:            input.Body.ID,
			ContactPerson: input.Body.ContactPerson,
			CompanyName:   input.Body.CompanyName,
			Email:         input.Body.Email,
			Phone:         input.Body.Phone,
			IsGuest:       input.Body.IsGuest,
			AccessExpiry:  input.Body.AccessExpiry,
			ManagerID:     input.Body.ManagerID,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: client}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ManagerID string `query:"manager_id"`
		GuestOnly bool   `query:"guest_only"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedClients `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		clients, err := e.ListClients(ctx, repo.ClientFilters{
			ManagerID:       input.ManagerID,
			GuestOnly:       input.GuestOnly,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedClients{Items: []domain.Client{}}
		if len(clients) > limit {
			resp.NextCursor = composeCursor(clients[limit].CreatedAt, clients[limit].ID)
			clients = clients[:limit]
		}
		resp.Items = append(resp.Items, clients...)
		return &struct {
			Body paginatedClients `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		client, err := e.GetClient(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: client}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPatch,
		Path:        "/clients/{id}",
		Summary:     "Update client",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		client, err := e.UpdateClient(ctx, input.ID, engine.UpdateClientOptions{
			ContactPerson: input.Body.ContactPerson,
			CompanyName:   input.Body.CompanyName,
			Email:         input.Body.Email,
			Phone:         input.Body.Phone,
			ManagerID:     input.Body.ManagerID,
			AccessExpiry:  input.Body.AccessExpiry,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: client}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-client",
		Method:      http.MethodDelete,
		Path:        "/clients/{id}",
		Summary:     "Delete client",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := claimFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteClient(ctx, input.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
