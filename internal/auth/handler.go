package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"twinhub/internal/users"
)

// TokenHandler serves /auth/login and /auth/refresh.
type TokenHandler struct {
	users      *users.Service
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *log.Logger
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(userService *users.Service, secret []byte, accessTTL, refreshTTL time.Duration, logger *log.Logger) (*TokenHandler, error) {
	if userService == nil {
		return nil, errors.New("token handler: nil user service")
	}
	if len(secret) == 0 {
		return nil, errors.New("token handler: empty secret")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TokenHandler{
		users:      userService,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}, nil
}

// ServeHTTP routes token requests.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/auth/login":
		h.handleLogin(w, r)
	case "/auth/refresh":
		h.handleRefresh(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *TokenHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	role, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrBadCredentials) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Printf("login: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	normalized, ok := NormalizeRole(role)
	if !ok {
		h.logger.Printf("login: user %q has unknown role %q", req.Email, role)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.issue(w, req.Email, normalized)
}

func (h *TokenHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	claims, err := ParseJWT(req.RefreshToken, h.secret, TokenTypeRefresh)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	role, _ := NormalizeRole(claims.Role)
	h.issue(w, claims.Subject, role)
}

func (h *TokenHandler) issue(w http.ResponseWriter, email string, role Role) {
	pair, err := IssueTokens(email, role, h.secret, h.accessTTL, h.refreshTTL)
	if err != nil {
		h.logger.Printf("issue tokens: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pair)
}
