package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/genesisplatform/auth-api/internal/services"
	pkghttp "github.com/genesisplatform/auth-api/pkg/http"
)

// AdminServiceInterface covers the admin-only account operations.
type AdminServiceInterface interface {
	DeactivateUser(ctx context.Context, userID string, device services.DeviceInfo) error
	Me(ctx context.Context, userID string) (*services.UserResponse, error)
}

// AdminHandler serves the admin-only routes; RequireRole gates them upstream.
type AdminHandler struct {
	service        AdminServiceInterface
	trustedProxies []string
}

func NewAdminHandler(service AdminServiceInterface, trustedProxies []string) *AdminHandler {
	return &AdminHandler{
		service:        service,
		trustedProxies: trustedProxies,
	}
}

// GetUser returns another user's profile by id.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "missing user id")
		return
	}

	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// DeactivateUser soft-deletes an account and revokes its sessions.
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "missing user id")
		return
	}

	device := services.DeviceInfo{
		IPAddress: pkghttp.ClientIP(r, h.trustedProxies),
		UserAgent: r.Header.Get("User-Agent"),
	}
	if err := h.service.DeactivateUser(r.Context(), userID, device); err != nil {
		h.writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "User deactivated"})
}

func (h *AdminHandler) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteError(w, http.StatusNotFound, "not_found", "User not found")
	case errors.Is(err, models.ErrServiceUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
