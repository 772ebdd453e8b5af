package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"identityrecon/internal/models"
	"identityrecon/internal/service"
)

//go:generate mockgen -source=identify.go -destination=mocks/mock_identifier.go -package=mocks Identifier

// Identifier resolves an identify request into a consolidated contact.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (service.Result, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service Identifier
	log     zerolog.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc Identifier, log zerolog.Logger) *IdentifyHandler {
	return &IdentifyHandler{
		service: svc,
		log:     log.With().Str("handler", "identify").Logger(),
	}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.log)

	var req models.IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debug().Err(err).Msg("decode request")
		writeError(w, log, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.service.Identify(r.Context(), req)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, models.IdentifyResponse{Contact: res.View})
}
