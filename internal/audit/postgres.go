package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PGSink appends events to the audit_events table.
type PGSink struct {
	db *sql.DB
}

// NewPGSink wraps an open database handle.
func NewPGSink(db *sql.DB) *PGSink { return &PGSink{db: db} }

func (s *PGSink) Append(ctx context.Context, e *Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	var actor, origin sql.NullString
	if e.Actor != "" {
		actor = sql.NullString{String: e.Actor, Valid: true}
	}
	if e.Origin != "" {
		origin = sql.NullString{String: e.Origin, Valid: true}
	}
	var junction sql.NullInt64
	if e.JunctionID != 0 {
		junction = sql.NullInt64{Int64: e.JunctionID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events (id, actor_id, junction_id, action, detail, origin, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, actor, junction, e.Action, detail, origin, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
