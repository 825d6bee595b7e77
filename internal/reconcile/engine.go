package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"presensi/internal/ledger"
	"presensi/internal/metrics"
	"presensi/internal/queue"
	"presensi/internal/schedule"
	"presensi/internal/token"
)

// Sentinel errors for rejected writes. The token store's own sentinels pass
// through ApplyScan verbatim so the client can tell an expired code from a
// spent one.
var (
	ErrAlreadyRecorded = errors.New("attendance already recorded")
	ErrInvalidStatus   = errors.New("unrecognized attendance status")
	ErrFutureDate      = errors.New("attendance date is in the future")
)

// Outcome reports what happened to one attempted status change. Err is nil
// when the write applied; ProofRequired flags statuses that expect a leave
// attachment the caller has not supplied yet.
type Outcome struct {
	AttendeeID    string        `json:"attendee_id"`
	ScheduleID    string        `json:"schedule_id"`
	Date          string        `json:"date"`
	Status        ledger.Status `json:"status,omitempty"`
	Source        ledger.Source `json:"source,omitempty"`
	Applied       bool          `json:"applied"`
	ProofRequired bool          `json:"proof_required,omitempty"`
	Err           error         `json:"-"`
}

// Event is published to the queue after every applied write. Prior carries
// the overwritten record when there was one, which is what the audit worker
// archives as history.
type Event struct {
	Record     ledger.Record  `json:"record"`
	Prior      *ledger.Record `json:"prior,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// ManualEntry is one teacher-entered status change.
type ManualEntry struct {
	AttendeeID string
	Status     ledger.Status
	Reason     string
	ProofRef   string
}

const stripeCount = 64

// Engine funnels scans, manual entries and bulk batches into one upsert
// primitive with the status-precedence rules applied atomically per ledger
// key. A striped mutex guards the get-decide-put sequence so precedence is
// always decided against the current record; the stripe is keyed, not
// global, to keep unrelated keys from serializing.
type Engine struct {
	tokens    *token.Store
	records   ledger.Store
	schedules schedule.Resolver
	events    queue.Queue
	metrics   *metrics.Metrics
	now       func() time.Time
	stripes   [stripeCount]sync.Mutex
}

// New wires an engine. events and m may be nil (tests, worker-less dev).
func New(tokens *token.Store, records ledger.Store, schedules schedule.Resolver, events queue.Queue, m *metrics.Metrics) *Engine {
	return &Engine{
		tokens:    tokens,
		records:   records,
		schedules: schedules,
		events:    events,
		metrics:   m,
		now:       time.Now,
	}
}

// SetNow overrides the engine clock. Tests only.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// ApplyScan redeems a check-in token for attendeeID and records presence for
// today. Status is present while the scan lands inside the schedule window
// and late after the window closes. Redeem failures come back verbatim.
func (e *Engine) ApplyScan(ctx context.Context, tokenValue, attendeeID, deviceID string) Outcome {
	scope, err := e.tokens.Redeem(tokenValue, attendeeID)
	if err != nil {
		e.countRejection(err)
		return Outcome{AttendeeID: attendeeID, Err: err}
	}
	if e.metrics != nil {
		e.metrics.TokensRedeemed.Inc()
	}

	now := e.now()
	occ, err := e.schedules.Resolve(ctx, scope.ScheduleID)
	if err != nil {
		// The schedule resolved at issue time; treat a vanished one as scope
		// failure rather than guessing a window.
		return Outcome{AttendeeID: attendeeID, ScheduleID: scope.ScheduleID,
			Err: fmt.Errorf("%v: %w", err, token.ErrInvalidScope)}
	}

	status := ledger.StatusPresent
	if now.After(occ.End) {
		status = ledger.StatusLate
	}

	rec := ledger.Record{
		AttendeeID: attendeeID,
		ScheduleID: scope.ScheduleID,
		ClassID:    occ.ClassID,
		Date:       ledger.DateOf(now),
		Status:     status,
		Source:     ledger.SourceScan,
		UpdatedAt:  now,
		UpdatedBy:  attendeeID,
	}
	if deviceID != "" {
		rec.Reason = "scanned via device " + deviceID
	}
	return e.upsert(ctx, rec)
}

// ApplyManual records one teacher-entered status change. The date must not
// be in the future and the status must be canonical.
func (e *Engine) ApplyManual(ctx context.Context, scheduleID, date, actorID string, entry ManualEntry) Outcome {
	if err := e.checkDate(date); err != nil {
		e.countRejection(err)
		return Outcome{AttendeeID: entry.AttendeeID, ScheduleID: scheduleID, Date: date, Err: err}
	}
	if !entry.Status.Valid() {
		e.countRejection(ErrInvalidStatus)
		return Outcome{AttendeeID: entry.AttendeeID, ScheduleID: scheduleID, Date: date, Err: ErrInvalidStatus}
	}
	occ, err := e.schedules.Resolve(ctx, scheduleID)
	if err != nil {
		e.countRejection(token.ErrInvalidScope)
		return Outcome{AttendeeID: entry.AttendeeID, ScheduleID: scheduleID, Date: date,
			Err: fmt.Errorf("%v: %w", err, token.ErrInvalidScope)}
	}

	rec := ledger.Record{
		AttendeeID: entry.AttendeeID,
		ScheduleID: scheduleID,
		ClassID:    occ.ClassID,
		Date:       date,
		Status:     entry.Status,
		Reason:     entry.Reason,
		ProofRef:   entry.ProofRef,
		Source:     ledger.SourceManual,
		UpdatedAt:  e.now(),
		UpdatedBy:  actorID,
	}
	return e.upsert(ctx, rec)
}

// ApplyBulk applies a whole-class batch for one schedule and date. The batch
// is validated as a unit; items then apply independently so one bad row never
// masks the rest. The returned error is non-nil only for batch-level failures
// (bad date, unresolvable schedule, empty batch).
func (e *Engine) ApplyBulk(ctx context.Context, scheduleID, date, actorID string, entries []ManualEntry) ([]Outcome, error) {
	if len(entries) == 0 {
		return nil, errors.New("empty batch")
	}
	if err := e.checkDate(date); err != nil {
		e.countRejection(err)
		return nil, err
	}
	occ, err := e.schedules.Resolve(ctx, scheduleID)
	if err != nil {
		e.countRejection(token.ErrInvalidScope)
		return nil, fmt.Errorf("%v: %w", err, token.ErrInvalidScope)
	}

	outcomes := make([]Outcome, 0, len(entries))
	for _, entry := range entries {
		if !entry.Status.Valid() {
			e.countRejection(ErrInvalidStatus)
			outcomes = append(outcomes, Outcome{
				AttendeeID: entry.AttendeeID, ScheduleID: scheduleID, Date: date,
				Err: ErrInvalidStatus,
			})
			continue
		}
		rec := ledger.Record{
			AttendeeID: entry.AttendeeID,
			ScheduleID: scheduleID,
			ClassID:    occ.ClassID,
			Date:       date,
			Status:     entry.Status,
			Reason:     entry.Reason,
			ProofRef:   entry.ProofRef,
			Source:     ledger.SourceBulk,
			UpdatedAt:  e.now(),
			UpdatedBy:  actorID,
		}
		outcomes = append(outcomes, e.upsert(ctx, rec))
	}
	return outcomes, nil
}

// upsert applies the precedence rule under the key's stripe lock:
// teacher-sourced writes (manual, bulk) override anything, a repeat scan is
// rejected, and a scan never overwrites an existing record.
func (e *Engine) upsert(ctx context.Context, rec ledger.Record) Outcome {
	key := rec.Key()
	stripe := e.stripeFor(key)
	stripe.Lock()
	defer stripe.Unlock()

	prior, err := e.records.Get(ctx, key)
	if err != nil {
		return Outcome{AttendeeID: key.AttendeeID, ScheduleID: key.ScheduleID, Date: key.Date, Err: err}
	}
	if rec.Source == ledger.SourceScan && prior != nil {
		e.countRejection(ErrAlreadyRecorded)
		return Outcome{AttendeeID: key.AttendeeID, ScheduleID: key.ScheduleID, Date: key.Date, Err: ErrAlreadyRecorded}
	}
	if err := e.records.Put(ctx, rec); err != nil {
		return Outcome{AttendeeID: key.AttendeeID, ScheduleID: key.ScheduleID, Date: key.Date, Err: err}
	}
	if e.metrics != nil {
		e.metrics.RecordsWritten.WithLabelValues(string(rec.Source)).Inc()
	}
	e.publish(ctx, rec, prior)

	return Outcome{
		AttendeeID:    rec.AttendeeID,
		ScheduleID:    rec.ScheduleID,
		Date:          rec.Date,
		Status:        rec.Status,
		Source:        rec.Source,
		Applied:       true,
		ProofRequired: rec.Status.RequiresProof() && rec.ProofRef == "",
	}
}

// publish hands the applied write to the audit queue. Best effort: a queue
// hiccup must not fail a committed attendance write.
func (e *Engine) publish(ctx context.Context, rec ledger.Record, prior *ledger.Record) {
	if e.events == nil {
		return
	}
	body, err := json.Marshal(Event{Record: rec, Prior: prior, RecordedAt: rec.UpdatedAt})
	if err != nil {
		return
	}
	if err := e.events.Publish(ctx, queue.Message{Type: "attendance", Body: body}); err != nil {
		log.Printf("attendance event publish failed: %v", err)
	}
}

func (e *Engine) checkDate(date string) error {
	if !ledger.ValidDate(date) {
		return ledger.ErrBadDate
	}
	if date > ledger.DateOf(e.now()) {
		return ErrFutureDate
	}
	return nil
}

func (e *Engine) countRejection(err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, token.ErrNotFound):
		e.metrics.RedeemFailures.WithLabelValues("not_found").Inc()
	case errors.Is(err, token.ErrExpired):
		e.metrics.RedeemFailures.WithLabelValues("expired").Inc()
	case errors.Is(err, token.ErrAlreadyRedeemed):
		e.metrics.RedeemFailures.WithLabelValues("already_redeemed").Inc()
	case errors.Is(err, token.ErrScopeMismatch):
		e.metrics.RedeemFailures.WithLabelValues("scope_mismatch").Inc()
	case errors.Is(err, ErrAlreadyRecorded):
		e.metrics.WritesRejected.WithLabelValues("already_recorded").Inc()
	case errors.Is(err, ErrInvalidStatus):
		e.metrics.WritesRejected.WithLabelValues("invalid_status").Inc()
	case errors.Is(err, ErrFutureDate):
		e.metrics.WritesRejected.WithLabelValues("future_date").Inc()
	default:
		e.metrics.WritesRejected.WithLabelValues("other").Inc()
	}
}

func (e *Engine) stripeFor(key ledger.Key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.AttendeeID))
	h.Write([]byte{0})
	h.Write([]byte(key.ScheduleID))
	h.Write([]byte{0})
	h.Write([]byte(key.Date))
	return &e.stripes[h.Sum32()%stripeCount]
}
