// Package audit records who performed which mutating API operation.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Entry represents an audit log entry.
type Entry struct {
	ID        string
	Actor     string
	Role      string
	Action    string
	Path      string
	Status    int
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "audit-" + hex.EncodeToString(buf)
}
