package handler

import (
	"log"
	"net/http"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/middleware"
	"shoplist-sync-server/internal/repository"
	"shoplist-sync-server/pkg/response"
)

// UserHandler exposes the caller's roster entry. Accounts are managed
// elsewhere; this is read-only.
type UserHandler struct {
	access repository.AccessRepository
}

func NewUserHandler(access repository.AccessRepository) *UserHandler {
	return &UserHandler{
		access: access,
	}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	name, err := h.access.DisplayName(r.Context(), userID)
	if err != nil {
		log.Printf("[Users] failed to load display name for %s: %v", userID, err)
		response.InternalError(w, "Failed to load user")
		return
	}
	owners, err := h.access.AccessibleOwners(r.Context(), userID)
	if err != nil {
		log.Printf("[Users] failed to load accessible owners for %s: %v", userID, err)
		response.InternalError(w, "Failed to load user")
		return
	}

	shared := make([]string, 0, len(owners))
	for _, o := range owners {
		if o != userID {
			shared = append(shared, o)
		}
	}

	response.Success(w, &domain.MeResponse{
		User:         domain.User{ID: userID, Username: userID, DisplayName: name},
		SharedOwners: shared,
	})
}
