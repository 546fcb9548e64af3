package handler

import (
	"net/http"

	"papertrade/internal/auth"
)

// AuthHandler handles HTTP requests for registration and login.
type AuthHandler struct {
	authSvc *auth.Service
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// credentialsRequest is the JSON request body for both auth endpoints.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registerResponse is the JSON response for POST /auth/register.
type registerResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// loginResponse is the JSON response for POST /auth/login.
type loginResponse struct {
	Token string `json:"token"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, err := h.authSvc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, registerResponse{
		UserID:    user.UserID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	token, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, loginResponse{Token: token})
}
