package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"identityrecon/internal/apperr"
	"identityrecon/internal/models"
)

// ContactReader loads a single stored contact by id.
type ContactReader interface {
	Get(ctx context.Context, id int64) (models.Contact, error)
}

// ContactsHandler serves raw contact rows for debugging.
type ContactsHandler struct {
	store ContactReader
	log   zerolog.Logger
}

func NewContactsHandler(store ContactReader, log zerolog.Logger) *ContactsHandler {
	return &ContactsHandler{
		store: store,
		log:   log.With().Str("handler", "contacts").Logger(),
	}
}

// Get returns the row named by the {id} path variable, tombstoned rows
// included.
func (h *ContactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.log)

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, log, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if errors.Is(err, apperr.ErrNotFound) {
		writeError(w, log, http.StatusNotFound, "contact not found")
		return
	}
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, c)
}
