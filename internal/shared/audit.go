package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row of the back-office activity trail. Document
// services write an entry per state change (create, transition, soft
// delete) carrying the document number and status in Meta.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends entries to audit_logs. The trail is append-only;
// services ignore the returned error so a failed trail write never
// rolls back the document change it describes.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a logger backed by the given pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists one entry. An empty Meta is stored as NULL rather
// than an empty object; a zero At defaults to now.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("shared: audit entry needs action, entity and entity id")
	}
	if l == nil || l.pool == nil {
		return errors.New("shared: audit logger not initialised")
	}
	var meta []byte
	if len(log.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(log.Meta); err != nil {
			return err
		}
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, meta, at)
	return err
}
