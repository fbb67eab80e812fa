// Package api exposes the importer over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

// ErrorResponse is the body of every non-import error
type ErrorResponse struct {
	Error string `json:"error"`
}

// ActorRequest names who performs an item action
type ActorRequest struct {
	Actor string `json:"actor"`
}

// ItemResponse is an item with its assets
type ItemResponse struct {
	Item   *preservation.Item    `json:"item"`
	Assets []*preservation.Asset `json:"assets"`
}

// Handler serves imports and item actions
type Handler struct {
	importer *preservation.Importer
	logger   *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(importer *preservation.Importer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{importer: importer, logger: logger}
}

// Routes returns the routes for imports and items
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/imports", h.RunImport)

	r.Get("/items/{id}", h.GetItem)
	r.Post("/items/{id}/publish", h.PublishItem)
	r.Post("/items/{id}/unpublish", h.UnpublishItem)
	r.Post("/items/{id}/derivatives", h.RegenerateDerivatives)

	return r
}

// RunImport runs one import request and returns its outcome
func (h *Handler) RunImport(w http.ResponseWriter, r *http.Request) {
	var req preservation.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid import request: "+err.Error())
		return
	}

	outcome := h.importer.Run(r.Context(), &req)
	render.Status(r, outcomeStatus(req.Action, outcome))
	render.JSON(w, r, outcome)
}

func outcomeStatus(action preservation.Action, outcome *preservation.Outcome) int {
	switch outcome.State {
	case preservation.StateSucceeded:
		if action == preservation.ActionUpdate {
			return http.StatusOK
		}
		return http.StatusCreated
	case preservation.StatePublishFailed:
		return http.StatusBadGateway
	}
	return errorStatus(outcome.Err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, preservation.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, preservation.ErrStaleObject), errors.Is(err, preservation.ErrDuplicateIdentifier):
		return http.StatusConflict
	case errors.Is(err, preservation.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, preservation.ErrPublish):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetItem returns an item and its assets
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.importer.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get item", id, err)
		return
	}
	assets, err := h.importer.GetItemAssets(r.Context(), item)
	if err != nil {
		h.fail(w, r, "Failed to get item assets", id, err)
		return
	}

	render.JSON(w, r, ItemResponse{Item: item, Assets: assets})
}

// PublishItem publishes an existing item
func (h *Handler) PublishItem(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, "Failed to publish item", h.importer.Publish)
}

// UnpublishItem withdraws an existing item
func (h *Handler) UnpublishItem(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, "Failed to unpublish item", h.importer.Unpublish)
}

// RegenerateDerivatives rebuilds every derivative of an item
func (h *Handler) RegenerateDerivatives(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, "Failed to regenerate derivatives", h.importer.RegenerateDerivatives)
}

type itemActionFunc func(ctx context.Context, id uuid.UUID, actor string) (*preservation.Item, error)

func (h *Handler) itemAction(w http.ResponseWriter, r *http.Request, msg string, action itemActionFunc) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Actor) == "" {
		writeError(w, r, http.StatusBadRequest, "actor is required")
		return
	}

	item, err := action(r.Context(), id, req.Actor)
	if err != nil {
		h.fail(w, r, msg, id, err)
		return
	}
	render.JSON(w, r, item)
}

func itemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid item ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, id uuid.UUID, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "item_id", id, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeError(w, r, status, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
