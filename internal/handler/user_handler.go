package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/service"
)

// UserHandler exposes the authenticated profile endpoints.
type UserHandler struct {
	userService *service.UserService
	logger      *zap.Logger
}

func NewUserHandler(userService *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers the /users routes behind bearer auth.
func (h *UserHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Route("/users", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", h.Me)
		r.Patch("/me", h.UpdateMe)
	})
}

type updateProfileRequest struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

func (r *updateProfileRequest) Validate() error {
	if r.PhoneNumber != nil && *r.PhoneNumber != "" && !phoneRegex.MatchString(*r.PhoneNumber) {
		return fmt.Errorf("%w: invalid phone number", service.ErrInvalidInput)
	}
	return nil
}

// Me returns the authenticated account's profile.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	account, err := h.userService.Profile(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to load profile")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(account, "Profile retrieved"))
}

// UpdateMe applies a partial profile edit.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	account, err := h.userService.UpdateProfile(r.Context(), accountID, &models.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to update profile")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(account, "Profile updated"))
}
