package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/omnicapture/internal/api/models"
)

// registerPreviewRoutes registers the WebRTC preview signalling endpoint.
func (s *Server) registerPreviewRoutes() {
	if s.options.Preview == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "preview-offer",
		Method:      http.MethodPost,
		Path:        "/api/preview/offer",
		Summary:     "Preview Offer",
		Description: "Exchange an SDP offer for an answer. The viewer receives the hardware encoder output.",
		Tags:        []string{"preview"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *models.PreviewOfferRequest) (*models.PreviewOfferResponse, error) {
		answer, err := s.options.Preview.HandleOffer(ctx, input.Body.SDP)
		if err != nil {
			return nil, huma.Error400BadRequest("Failed to create preview session", err)
		}
		resp := &models.PreviewOfferResponse{}
		resp.Body.SDP = answer
		return resp, nil
	})
}
