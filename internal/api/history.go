package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/omnicapture/internal/api/models"
	"github.com/smazurov/omnicapture/internal/history"
)

// registerHistoryRoutes registers the capture history endpoints.
func (s *Server) registerHistoryRoutes() {
	if s.options.History == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/api/history",
		Summary:     "Capture History",
		Description: "Finished capture attempts, newest first",
		Tags:        []string{"history"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *models.HistoryListRequest) (*models.HistoryListResponse, error) {
		attempts, err := s.options.History.List(ctx, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to read capture history", err)
		}
		if attempts == nil {
			attempts = []history.Attempt{}
		}
		return &models.HistoryListResponse{
			Body: models.HistoryListData{Attempts: attempts, Count: len(attempts)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/api/history/{id}",
		Summary:     "Capture Attempt",
		Description: "One capture attempt with its segments",
		Tags:        []string{"history"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500},
	}, func(ctx context.Context, input *models.HistoryGetRequest) (*models.HistoryGetResponse, error) {
		attempt, err := s.options.History.Get(ctx, input.ID)
		if errors.Is(err, history.ErrNotFound) {
			return nil, huma.Error404NotFound("Capture attempt not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to read capture history", err)
		}
		return &models.HistoryGetResponse{Body: attempt}, nil
	})
}
