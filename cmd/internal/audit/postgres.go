package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists events to sessiond.audit_log.
//
// Insert failures are logged and swallowed: audit is best-effort and must
// never fail the lifecycle operation that emitted the event.
type PostgresSink struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresSink creates a Postgres-backed audit sink.
func NewPostgresSink(pool *pgxpool.Pool, log *slog.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, log: log}
}

// Record inserts the event.
func (s *PostgresSink) Record(ctx context.Context, ev Event) {
	if s == nil || s.pool == nil {
		return
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			v := string(b)
			metaVal = &v
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessiond.audit_log (
			subject_id, credential_id, action, created_at, meta
		) VALUES ($1, $2, $3, $4, $5::jsonb)
	`, ev.SubjectID, ev.CredentialID, ev.Action, ev.At, metaVal)
	if err != nil && s.log != nil {
		s.log.Error("audit.insert.fail", "err", err, "action", ev.Action)
	}
}
