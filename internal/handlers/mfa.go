package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/genesisplatform/auth-api/internal/auth"
	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/genesisplatform/auth-api/internal/services"
	pkghttp "github.com/genesisplatform/auth-api/pkg/http"
)

// MFAServiceInterface is the TOTP enrollment surface.
type MFAServiceInterface interface {
	Setup(ctx context.Context, userID string) (*services.MFASetupResponse, error)
	Enable(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, code string) error
}

// MFAHandler handles TOTP enrollment endpoints. All routes require a valid
// access token.
type MFAHandler struct {
	service MFAServiceInterface
}

func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

type MFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Setup generates a pending TOTP secret and returns the provisioning QR.
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	resp, err := h.service.Setup(r.Context(), claims.UserID)
	if err != nil {
		h.writeMFAError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Enable confirms enrollment with a current code.
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req MFACodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Enable(r.Context(), claims.UserID, req.Code); err != nil {
		h.writeMFAError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication enabled"})
}

// Disable turns TOTP off after checking a current code.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req MFACodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Code); err != nil {
		h.writeMFAError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication disabled"})
}

func (h *MFAHandler) writeMFAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMFACodeInvalid):
		pkghttp.WriteBadRequest(w, "Invalid TOTP code")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrServiceUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
