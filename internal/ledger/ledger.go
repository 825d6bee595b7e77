package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the canonical attendance status enumeration. Caller-facing
// adapters normalize local aliases ("izin", "alpha", ...) before anything
// reaches this package.
type Status string

const (
	StatusPresent        Status = "present"
	StatusLate           Status = "late"
	StatusSick           Status = "sick"
	StatusExcused        Status = "excused"
	StatusAbsent         Status = "absent"
	StatusEarlyDeparture Status = "early_departure"
)

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusSick, StatusExcused, StatusAbsent, StatusEarlyDeparture:
		return true
	default:
		return false
	}
}

// RequiresProof reports whether business rules expect a leave attachment
// for the status. The ledger accepts the write either way; the outcome is
// only flagged so the caller can chase the upload.
func (s Status) RequiresProof() bool {
	switch s {
	case StatusSick, StatusExcused, StatusEarlyDeparture:
		return true
	default:
		return false
	}
}

// Source identifies which entry path wrote a record.
type Source string

const (
	SourceScan   Source = "scan"
	SourceManual Source = "manual"
	SourceBulk   Source = "bulk"
)

// Key identifies one attendance record. Date is an ISO calendar date
// (YYYY-MM-DD) so lexicographic order matches chronological order.
type Key struct {
	AttendeeID string
	ScheduleID string
	Date       string
}

// Record is one attendance entry. At most one record exists per Key;
// corrections overwrite in place and UpdatedAt/UpdatedBy carry the audit
// trail. Records are never deleted by the engine.
type Record struct {
	AttendeeID string    `json:"attendee_id"`
	ScheduleID string    `json:"schedule_id"`
	ClassID    string    `json:"class_id"`
	Date       string    `json:"date"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	ProofRef   string    `json:"proof_ref,omitempty"`
	Source     Source    `json:"source"`
	UpdatedAt  time.Time `json:"updated_at"`
	UpdatedBy  string    `json:"updated_by"`
}

// Key returns the record's ledger key.
func (r Record) Key() Key {
	return Key{AttendeeID: r.AttendeeID, ScheduleID: r.ScheduleID, Date: r.Date}
}

// Filter selects records for Query. Empty fields match everything; DateFrom
// and DateTo are inclusive ISO dates.
type Filter struct {
	AttendeeID string
	ScheduleID string
	ClassID    string
	DateFrom   string
	DateTo     string
}

// Store is the thin persistence abstraction the reconciliation engine and
// the aggregator work against. Get returns (nil, nil) when no record exists
// for the key.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
}

const dateLayout = "2006-01-02"

// ValidDate reports whether s is a well-formed ISO calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil && len(s) == len(dateLayout)
}

// DateOf formats t as an ISO calendar date in UTC.
func DateOf(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ErrBadDate is returned by backends when a filter or key carries a
// malformed date.
var ErrBadDate = errors.New("malformed date")
