package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/authbroker/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// StorageBackend defines the persistence interface for the broker.
type StorageBackend interface {
	// Accounts
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByUID(ctx context.Context, uid int) (*models.User, error)

	// API keys
	GetAPIKey(ctx context.Context, id int64) (*models.APIKey, error)

	// Two-factor
	GetTwoFactorConfig(ctx context.Context) (*models.TwoFactorConfig, error)
	UpdateTwoFactorConfig(ctx context.Context, cfg *models.TwoFactorConfig) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Event     string
	SessionID string
	Since     *time.Time
	Limit     int
	Offset    int
}
