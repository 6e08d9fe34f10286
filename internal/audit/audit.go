// File: internal/audit/audit.go
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record is one blocked attempt. Only the offending text and the supervised
// identity leave the machine; the page, the surface and the verdict detail
// stay in the local log.
type Record struct {
	ID            string    `json:"id"`
	SearchQuery   string    `json:"search_query"`
	ChildUsername string    `json:"child_username"`
	Source        string    `json:"source,omitempty"`
	At            time.Time `json:"at"`
}

// ProfileSource answers who, if anyone, is currently supervised.
type ProfileSource interface {
	ActiveUsername() (string, bool)
}

// Logger turns blocked attempts into spooled audit records. Recording is
// fire-and-forget and strictly gated: without an active supervised profile
// nothing is written anywhere.
type Logger struct {
	spool   *Spool
	profile ProfileSource
	logger  *zap.Logger
}

// NewLogger builds the audit logger. profile must not be nil.
func NewLogger(spool *Spool, profile ProfileSource, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		spool:   spool,
		profile: profile,
		logger:  logger.Named("audit"),
	}
}

// Record implements the enforcement controller's audit hook.
func (l *Logger) Record(_ context.Context, query, source string) {
	username, active := l.profile.ActiveUsername()
	if !active {
		l.logger.Debug("Skipping audit record; no active profile.")
		return
	}

	rec := Record{
		ID:            uuid.NewString(),
		SearchQuery:   query,
		ChildUsername: username,
		Source:        source,
		At:            time.Now().UTC(),
	}
	if err := l.spool.Append(rec); err != nil {
		l.logger.Warn("Failed to spool audit record.", zap.Error(err))
		return
	}
	l.logger.Info("Audit record spooled.",
		zap.String("id", rec.ID), zap.String("source", source))
}
