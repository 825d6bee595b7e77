package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is one archived attendance write. Prior* fields carry the
// overwritten record's status and source when the write replaced one; they
// are what gives corrections a history, since the ledger itself keeps only
// the latest record per key.
type Entry struct {
	ID          string    `json:"id"`
	AttendeeID  string    `json:"attendee_id"`
	ScheduleID  string    `json:"schedule_id"`
	Date        string    `json:"date"`
	Status      string    `json:"status"`
	Source      string    `json:"source"`
	PriorStatus *string   `json:"prior_status,omitempty"`
	PriorSource *string   `json:"prior_source,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ProofRef    string    `json:"proof_ref,omitempty"`
	RecordedBy  string    `json:"recorded_by"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Repository persists the audit archive in Postgres.
//
// Expected table:
//
//	CREATE TABLE attendance_audit (
//	    id           UUID PRIMARY KEY,
//	    attendee_id  TEXT NOT NULL,
//	    schedule_id  TEXT NOT NULL,
//	    date         DATE NOT NULL,
//	    status       TEXT NOT NULL,
//	    source       TEXT NOT NULL,
//	    prior_status TEXT,
//	    prior_source TEXT,
//	    reason       TEXT NOT NULL DEFAULT '',
//	    proof_ref    TEXT NOT NULL DEFAULT '',
//	    recorded_by  TEXT NOT NULL,
//	    recorded_at  TIMESTAMPTZ NOT NULL
//	);
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends one audit entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit
			(id, attendee_id, schedule_id, date, status, source, prior_status, prior_source, reason, proof_ref, recorded_by, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, e.ID, e.AttendeeID, e.ScheduleID, e.Date, e.Status, e.Source,
		e.PriorStatus, e.PriorSource, e.Reason, e.ProofRef, e.RecordedBy, e.RecordedAt)
	return err
}

// ListByKey returns the write history for one attendance key, oldest first.
func (r *Repository) ListByKey(ctx context.Context, attendeeID, scheduleID, date string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, attendee_id, schedule_id, to_char(date, 'YYYY-MM-DD'), status, source,
		       prior_status, prior_source, reason, proof_ref, recorded_by, recorded_at
		FROM attendance_audit
		WHERE attendee_id = $1 AND schedule_id = $2 AND date = $3
		ORDER BY recorded_at
	`, attendeeID, scheduleID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AttendeeID, &e.ScheduleID, &e.Date, &e.Status, &e.Source,
			&e.PriorStatus, &e.PriorSource, &e.Reason, &e.ProofRef, &e.RecordedBy, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
