package audit

import (
	"context"

	"github.com/org/authbroker/internal/auth"
	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/events"
	"github.com/org/authbroker/internal/storage"
	"github.com/org/authbroker/pkg/models"
	"github.com/rs/zerolog/log"
)

// Audit event names.
const (
	EventLogin          = "login"
	EventSessionAdded   = "session.added"
	EventSessionRemoved = "session.removed"
)

// Logger writes structured audit entries.
type Logger struct {
	store storage.StorageBackend
	clock clock.Clock
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.StorageBackend, c clock.Clock) *Logger {
	return &Logger{store: store, clock: c}
}

// LogLogin records the outcome of an explicit login attempt. Secrets
// must never be passed here.
func (l *Logger) LogLogin(ctx context.Context, sessionID, origin, username, method string, success bool) {
	l.write(ctx, &models.AuditEntry{
		Event:     EventLogin,
		SessionID: sessionID,
		Origin:    origin,
		Username:  username,
		Method:    method,
		Success:   success,
	})
}

// Run records session lifecycle events from ch until ctx is done or ch
// is closed.
func (l *Logger) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			l.recordSession(ctx, ev)
		}
	}
}

func (l *Logger) recordSession(ctx context.Context, ev events.Event) {
	info, ok := ev.Fields.(auth.SessionInfo)
	if !ok {
		return
	}
	var name string
	switch ev.Kind {
	case events.Added:
		name = EventSessionAdded
	case events.Removed:
		name = EventSessionRemoved
	default:
		return
	}
	l.write(ctx, &models.AuditEntry{
		Event:     name,
		SessionID: info.ID,
		Origin:    info.Origin,
		Username:  usernameOf(info.CredentialsData),
		Method:    info.Credentials,
		Success:   true,
		Metadata:  map[string]any{"credentials_data": info.CredentialsData},
	})
}

// usernameOf digs the username out of a credential dump, following
// token parents.
func usernameOf(data map[string]any) string {
	for i := 0; i < 8 && data != nil; i++ {
		if name, ok := data["username"].(string); ok {
			return name
		}
		parent, _ := data["parent"].(map[string]any)
		data, _ = parent["credentials_data"].(map[string]any)
	}
	return ""
}

func (l *Logger) write(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = l.clock.Now().UTC()
	// Audit failures must not break the request flow.
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("event", entry.Event).Msg("audit write failed")
	}
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}
