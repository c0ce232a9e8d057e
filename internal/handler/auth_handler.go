// Package handler provides HTTP handlers for the auth gateway.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/haimerb/iqbts/internal/middleware"
	apierrors "github.com/haimerb/iqbts/internal/pkg/errors"
	"github.com/haimerb/iqbts/internal/pkg/response"
	"github.com/haimerb/iqbts/internal/service"
)

const msgCredentialsRequired = "Username and password required"

// AuthHandler handles login, logout and the protected greeting.
type AuthHandler struct {
	authService service.AuthService
	validate    *validator.Validate
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validate:    validator.New(),
	}
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	// A malformed body is treated like an empty one.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = service.LoginRequest{}
	}

	if err := h.validate.Struct(req); err != nil {
		middleware.RecordLogin(middleware.LoginBadRequest)
		response.Error(w, apierrors.ErrBadRequest.WithMessage(msgCredentialsRequired))
		return
	}

	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		middleware.RecordLogin(loginOutcome(err))
		response.Error(w, err)
		return
	}

	middleware.RecordLogin(middleware.LoginSuccess)
	response.OK(w, resp)
}

func loginOutcome(err error) string {
	switch apierrors.AsAPIError(err).StatusCode {
	case http.StatusBadRequest:
		return middleware.LoginBadRequest
	case http.StatusUnauthorized:
		return middleware.LoginRejected
	case http.StatusLocked:
		return middleware.LoginLocked
	default:
		return middleware.LoginServerError
	}
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	resp, err := h.authService.Logout(r.Context(), middleware.GetUsername(r.Context()))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, resp)
}

// Protected handles GET /protected
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.authService.Status(r.Context(), middleware.GetUsername(r.Context())))
}
