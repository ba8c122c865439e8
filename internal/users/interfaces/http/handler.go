package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	apihttp "twinhub/internal/api/http"
	"twinhub/internal/users"
)

// Handler serves user management endpoints under /api/v1/user/.
type Handler struct {
	service *users.Service
	logger  *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *users.Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("user handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

// ServeHTTP routes user requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/user/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/api/v1/user/")

	switch {
	case op == "insert-user" && r.Method == http.MethodPost:
		h.handleInsert(w, r)
	case op == "list-users" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case op == "delete-user" && r.Method == http.MethodPost:
		h.handleDelete(w, r)
	case op == "change-password" && r.Method == http.MethodPost:
		h.handleChangePassword(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}
	if err := h.service.Insert(r.Context(), req.Email, req.Password, req.Role); err != nil {
		apihttp.WriteError(w, h.logger, "insert user", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list users", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.Delete(r.Context(), req.Email); err != nil {
		apihttp.WriteError(w, h.logger, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.ChangePassword(r.Context(), req.Email, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, users.ErrBadCredentials) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		apihttp.WriteError(w, h.logger, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
