package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres persists the ledger in Postgres.
//
// Expected table:
//
//	CREATE TABLE attendance_records (
//	    attendee_id TEXT NOT NULL,
//	    schedule_id TEXT NOT NULL,
//	    date        DATE NOT NULL,
//	    class_id    TEXT NOT NULL DEFAULT '',
//	    status      TEXT NOT NULL,
//	    reason      TEXT NOT NULL DEFAULT '',
//	    proof_ref   TEXT NOT NULL DEFAULT '',
//	    source      TEXT NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL,
//	    updated_by  TEXT NOT NULL,
//	    PRIMARY KEY (attendee_id, schedule_id, date)
//	);
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Get returns the record for key, or (nil, nil) when none exists.
func (p *Postgres) Get(ctx context.Context, key Key) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT attendee_id, schedule_id, to_char(date, 'YYYY-MM-DD'), class_id,
		       status, reason, proof_ref, source, updated_at, updated_by
		FROM attendance_records
		WHERE attendee_id = $1 AND schedule_id = $2 AND date = $3
	`, key.AttendeeID, key.ScheduleID, key.Date)
	var rec Record
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Put creates or replaces the record for its key.
func (p *Postgres) Put(ctx context.Context, rec Record) error {
	if !ValidDate(rec.Date) {
		return ErrBadDate
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(attendee_id, schedule_id, date, class_id, status, reason, proof_ref, source, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (attendee_id, schedule_id, date) DO UPDATE SET
			class_id   = EXCLUDED.class_id,
			status     = EXCLUDED.status,
			reason     = EXCLUDED.reason,
			proof_ref  = EXCLUDED.proof_ref,
			source     = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, rec.AttendeeID, rec.ScheduleID, rec.Date, rec.ClassID, rec.Status, rec.Reason,
		rec.ProofRef, rec.Source, rec.UpdatedAt, rec.UpdatedBy)
	return err
}

// Query returns records matching the filter ordered by (date, attendee_id,
// schedule_id).
func (p *Postgres) Query(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT attendee_id, schedule_id, to_char(date, 'YYYY-MM-DD'), class_id,
	       status, reason, proof_ref, source, updated_at, updated_by
	FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.AttendeeID != "" {
		clauses = append(clauses, "attendee_id = $"+itoa(len(args)+1))
		args = append(args, f.AttendeeID)
	}
	if f.ScheduleID != "" {
		clauses = append(clauses, "schedule_id = $"+itoa(len(args)+1))
		args = append(args, f.ScheduleID)
	}
	if f.ClassID != "" {
		clauses = append(clauses, "class_id = $"+itoa(len(args)+1))
		args = append(args, f.ClassID)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "date >= $"+itoa(len(args)+1))
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "date <= $"+itoa(len(args)+1))
		args = append(args, f.DateTo)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY date, attendee_id, schedule_id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *Record) error {
	return row.Scan(&rec.AttendeeID, &rec.ScheduleID, &rec.Date, &rec.ClassID,
		&rec.Status, &rec.Reason, &rec.ProofRef, &rec.Source, &rec.UpdatedAt, &rec.UpdatedBy)
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
