package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in role_audit_logs.
type AuditLog struct {
	Action    string
	Namespace string
	Role      string
	Warnings  []string
	Meta      map[string]any
	At        time.Time
}

// AuditLogger writes role mutations into role_audit_logs.
// A nil logger is a no-op so callers never branch on whether auditing is on.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	if pool == nil {
		return nil
	}
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return nil
	}
	if log.Action == "" || log.Namespace == "" || log.Role == "" {
		return errors.New("audit log requires action/namespace/role")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	warningsJSON, err := json.Marshal(log.Warnings)
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO role_audit_logs (id, action, namespace, role_name, warnings, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), log.Action, log.Namespace, log.Role, warningsJSON, metaJSON, at)
	return err
}
