package audit

import (
	"log"
	"net"
	"net/http"
	"strings"

	"twinhub/internal/auth"
)

// Middleware records mutating API requests after they complete. A failed
// audit write is logged but never fails the request itself.
func Middleware(sink Logger, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sink == nil || !shouldAudit(r) {
				next.ServeHTTP(w, r)
				return
			}
			resp := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(resp, r)

			entry := Entry{
				Actor:     auth.SubjectFromContext(r.Context()),
				Role:      string(auth.RoleFromContext(r.Context())),
				Action:    actionOf(r.URL.Path),
				Path:      r.URL.Path,
				Status:    resp.status,
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
			}
			if err := sink.Log(r.Context(), entry); err != nil && logger != nil {
				logger.Printf("audit log: %v", err)
			}
		})
	}
}

func shouldAudit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func actionOf(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
