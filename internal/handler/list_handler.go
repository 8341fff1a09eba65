package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/middleware"
	"shoplist-sync-server/internal/service"
	"shoplist-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type ListHandler struct {
	service  *service.ListService
	validate *validator.Validate
}

func NewListHandler(service *service.ListService) *ListHandler {
	return &ListHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *ListHandler) GetLists(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	lists, err := h.service.GetLists(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Success(w, lists)
}

func (h *ListHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemsRequest
	if !decode(w, r, &req) {
		return
	}

	inserted, err := h.service.AddItems(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Created(w, &domain.AddItemsResponse{Inserted: inserted})
}

func (h *ListHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req domain.PatchListRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.Patch(r.Context(), middleware.GetUserID(r), &req); err != nil {
		writeServiceError(w, err)
		return
	}
	response.OK(w)
}

func (h *ListHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateQuantityRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.UpdateQuantity(r.Context(), middleware.GetUserID(r), &req); err != nil {
		writeServiceError(w, err)
		return
	}
	response.OK(w)
}

func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if err := h.service.Delete(r.Context(), middleware.GetUserID(r), q.Get("ownerId"), q.Get("label")); err != nil {
		writeServiceError(w, err)
		return
	}
	response.OK(w)
}

// Batch accepts either a bare array of operations or {"operations": [...]}.
func (h *ListHandler) Batch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	var ops []domain.Operation
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &ops)
	} else {
		var req domain.BatchRequest
		err = json.Unmarshal(trimmed, &req)
		ops = req.Operations
	}
	if err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	result, err := h.service.ApplyBatch(r.Context(), middleware.GetUserID(r), ops)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Success(w, &domain.BatchResponse{Success: true, Applied: result.Applied})
}

func (h *ListHandler) RenameList(w http.ResponseWriter, r *http.Request) {
	var req domain.RenameListRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, "label must be between 1 and 100 characters")
		return
	}

	label, err := h.service.RenameList(r.Context(), middleware.GetUserID(r), req.Label)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Success(w, &domain.RenameListResponse{Label: label})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}
	return true
}

// writeServiceError maps service errors onto status codes. A NotFoundError
// wrapped in a transaction abort still answers 404.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	var forbiddenErr *service.ForbiddenError
	var notFoundErr *service.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		response.BadRequest(w, validationErr.Error())
	case errors.As(err, &forbiddenErr):
		response.Forbidden(w, forbiddenErr.Error())
	case errors.As(err, &notFoundErr):
		response.NotFound(w, err.Error())
	default:
		log.Printf("[Lists] request failed: %v", err)
		response.InternalError(w, "Failed to update shopping list")
	}
}
