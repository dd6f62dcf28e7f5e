package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/authbroker/pkg/models"
)

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Accounts ---

const userColumns = `u.id, u.uid, u.username, u.full_name, u.locked, u.password_hash,
	        pr.name, pr.allowlist, pr.web_shell`

func (p *PostgresBackend) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u JOIN privileges pr ON pr.id = u.privilege_id
		 WHERE u.username = $1`,
		username,
	)
	return scanUser(row)
}

func (p *PostgresBackend) GetUserByUID(ctx context.Context, uid int) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u JOIN privileges pr ON pr.id = u.privilege_id
		 WHERE u.uid = $1`,
		uid,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var allowlistJSON []byte
	err := row.Scan(&u.ID, &u.UID, &u.Username, &u.FullName, &u.Locked, &u.PasswordHash,
		&u.Privilege.Name, &allowlistJSON, &u.Privilege.WebShell)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(allowlistJSON, &u.Privilege.Allowlist); err != nil {
		return nil, fmt.Errorf("decoding allowlist for %q: %w", u.Username, err)
	}
	return &u, nil
}

// --- API keys ---

func (p *PostgresBackend) GetAPIKey(ctx context.Context, id int64) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, allowlist, created_at FROM api_keys WHERE id = $1`,
		id,
	)
	var k models.APIKey
	var allowlistJSON []byte
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &allowlistJSON, &k.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(allowlistJSON, &k.Allowlist); err != nil {
		return nil, fmt.Errorf("decoding allowlist for api key %d: %w", k.ID, err)
	}
	return &k, nil
}

// --- Two-factor ---

func (p *PostgresBackend) GetTwoFactorConfig(ctx context.Context) (*models.TwoFactorConfig, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, enabled, otp_digits, "window", "interval", services, secret
		 FROM two_factor_config ORDER BY id LIMIT 1`,
	)
	var c models.TwoFactorConfig
	var servicesJSON []byte
	var secret *string
	err := row.Scan(&c.ID, &c.Enabled, &c.OTPDigits, &c.Window, &c.Interval, &servicesJSON, &secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(servicesJSON, &c.Services); err != nil {
		return nil, fmt.Errorf("decoding two-factor services: %w", err)
	}
	if secret != nil {
		c.Secret = *secret
	}
	return &c, nil
}

func (p *PostgresBackend) UpdateTwoFactorConfig(ctx context.Context, c *models.TwoFactorConfig) error {
	servicesJSON, err := json.Marshal(c.Services)
	if err != nil {
		return err
	}
	var secret *string
	if c.Secret != "" {
		secret = &c.Secret
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE two_factor_config
		 SET enabled = $2, otp_digits = $3, "window" = $4, "interval" = $5, services = $6, secret = $7
		 WHERE id = $1`,
		c.ID, c.Enabled, c.OTPDigits, c.Window, c.Interval, servicesJSON, secret,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (timestamp, event, session_id, origin, username, method, success, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Timestamp, entry.Event, entry.SessionID, entry.Origin, entry.Username,
		entry.Method, entry.Success, metaJSON,
	)
	return err
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, timestamp, event, session_id, origin, username, method, success, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Event != "" {
		fmt.Fprintf(&query, ` AND event = $%d`, n)
		args = append(args, filter.Event)
		n++
	}
	if filter.SessionID != "" {
		fmt.Fprintf(&query, ` AND session_id = $%d`, n)
		args = append(args, filter.SessionID)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Event, &e.SessionID, &e.Origin,
			&e.Username, &e.Method, &e.Success, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
