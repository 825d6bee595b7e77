package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presensi/internal/ledger"
	"presensi/internal/schedule"
	"presensi/internal/summary"
	"presensi/internal/token"
)

// Lesson window 07:00-07:45 on 2026-03-02, the classic first period.
var (
	lessonStart = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	lessonEnd   = lessonStart.Add(45 * time.Minute)
)

type fixture struct {
	engine  *Engine
	tokens  *token.Store
	records *ledger.Memory
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	resolver := schedule.NewMemory()
	resolver.Add(schedule.Occurrence{
		ScheduleID: "sched-1",
		Subject:    "Matematika",
		TeacherID:  "teacher-1",
		ClassID:    "XII-A",
		Date:       "2026-03-02",
		Start:      lessonStart,
		End:        lessonEnd,
	})

	f := &fixture{now: lessonStart}
	f.tokens = token.NewStore(resolver, token.Options{Now: func() time.Time { return f.now }})
	f.records = ledger.NewMemory()
	f.engine = New(f.tokens, f.records, resolver, nil, nil)
	f.engine.SetNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) issue(t *testing.T, attendeeType token.AttendeeType, issuer string) token.Token {
	t.Helper()
	tok, err := f.tokens.Issue(context.Background(), token.Scope{
		ScheduleID:   "sched-1",
		AttendeeType: attendeeType,
		IssuerID:     issuer,
	}, 15*time.Minute)
	require.NoError(t, err)
	return tok
}

func TestApplyScanClassification(t *testing.T) {
	ctx := context.Background()

	t.Run("scan inside the window is present", func(t *testing.T) {
		f := newFixture(t)
		f.now = lessonStart.Add(30 * time.Minute)
		tok := f.issue(t, token.AttendeeStudent, "student-1")

		f.now = lessonStart.Add(40 * time.Minute) // 07:40
		out := f.engine.ApplyScan(ctx, tok.Value, "student-1", "dev-tablet")
		require.NoError(t, out.Err)
		assert.True(t, out.Applied)
		assert.Equal(t, ledger.StatusPresent, out.Status)
		assert.Equal(t, ledger.SourceScan, out.Source)
		assert.Equal(t, "2026-03-02", out.Date)

		stored, err := f.records.Get(ctx, ledger.Key{AttendeeID: "student-1", ScheduleID: "sched-1", Date: "2026-03-02"})
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "XII-A", stored.ClassID)
	})

	t.Run("scan after the window is late", func(t *testing.T) {
		f := newFixture(t)
		f.now = lessonEnd.Add(time.Minute) // fresh token issued after 07:45
		tok := f.issue(t, token.AttendeeStudent, "student-1")

		f.now = lessonStart.Add(50 * time.Minute) // 07:50
		out := f.engine.ApplyScan(ctx, tok.Value, "student-1", "")
		require.NoError(t, out.Err)
		assert.Equal(t, ledger.StatusLate, out.Status)
	})

	t.Run("scan exactly at window close is present", func(t *testing.T) {
		f := newFixture(t)
		f.now = lessonEnd.Add(-5 * time.Minute)
		tok := f.issue(t, token.AttendeeStudent, "student-1")

		f.now = lessonEnd
		out := f.engine.ApplyScan(ctx, tok.Value, "student-1", "")
		require.NoError(t, out.Err)
		assert.Equal(t, ledger.StatusPresent, out.Status)
	})
}

func TestScanRoundTripShowsUpInSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tok, err := f.tokens.Issue(ctx, token.Scope{
		ScheduleID:   "sched-1",
		AttendeeType: token.AttendeeStudent,
		IssuerID:     "student-1",
	}, 15*time.Minute)
	require.NoError(t, err)

	out := f.engine.ApplyScan(ctx, tok.Value, "student-1", "")
	require.NoError(t, out.Err)

	counts, err := summary.New(f.records).Daily(ctx, "student-1", "2026-03-02", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, map[ledger.Status]int{ledger.StatusPresent: 1}, counts)

	recs, err := f.records.Query(ctx, ledger.Filter{AttendeeID: "student-1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.SourceScan, recs[0].Source)
}

func TestApplyScanRedeemFailuresPassThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out := f.engine.ApplyScan(ctx, "bogus", "student-1", "")
	assert.ErrorIs(t, out.Err, token.ErrNotFound)

	tok := f.issue(t, token.AttendeeStudent, "student-1")
	f.now = f.now.Add(20 * time.Minute)
	out = f.engine.ApplyScan(ctx, tok.Value, "student-1", "")
	assert.ErrorIs(t, out.Err, token.ErrExpired)
}

func TestScanTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.issue(t, token.AttendeeStudent, "student-1")
	out := f.engine.ApplyScan(ctx, first.Value, "student-1", "")
	require.NoError(t, out.Err)

	// A second scan with a fresh token must not silently flip the status.
	second := f.issue(t, token.AttendeeStudent, "student-1")
	out = f.engine.ApplyScan(ctx, second.Value, "student-1", "")
	assert.ErrorIs(t, out.Err, ErrAlreadyRecorded)

	stored, err := f.records.Get(ctx, ledger.Key{AttendeeID: "student-1", ScheduleID: "sched-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceScan, stored.Source)
	assert.Equal(t, ledger.StatusPresent, stored.Status)
}

func TestManualOverridesScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tok := f.issue(t, token.AttendeeStudent, "student-1")
	out := f.engine.ApplyScan(ctx, tok.Value, "student-1", "")
	require.NoError(t, out.Err)

	out = f.engine.ApplyManual(ctx, "sched-1", "2026-03-02", "teacher-1", ManualEntry{
		AttendeeID: "student-1",
		Status:     ledger.StatusSick,
		Reason:     "sent home by the nurse",
		ProofRef:   "proofs/abc123",
	})
	require.NoError(t, out.Err)
	assert.True(t, out.Applied)
	assert.False(t, out.ProofRequired)

	stored, err := f.records.Get(ctx, ledger.Key{AttendeeID: "student-1", ScheduleID: "sched-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSick, stored.Status)
	assert.Equal(t, ledger.SourceManual, stored.Source)
	assert.Equal(t, "teacher-1", stored.UpdatedBy)
}

func TestManualOverridesManual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entry := ManualEntry{AttendeeID: "student-1", Status: ledger.StatusAbsent}
	out := f.engine.ApplyManual(ctx, "sched-1", "2026-03-02", "teacher-1", entry)
	require.NoError(t, out.Err)

	entry.Status = ledger.StatusExcused
	entry.ProofRef = "proofs/surat-izin"
	out = f.engine.ApplyManual(ctx, "sched-1", "2026-03-02", "teacher-1", entry)
	require.NoError(t, out.Err, "corrections are last-write-wins")

	stored, err := f.records.Get(ctx, ledger.Key{AttendeeID: "student-1", ScheduleID: "sched-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExcused, stored.Status)
}

func TestManualValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("future date", func(t *testing.T) {
		out := f.engine.ApplyManual(ctx, "sched-1", "2026-03-03", "teacher-1",
			ManualEntry{AttendeeID: "student-1", Status: ledger.StatusPresent})
		assert.ErrorIs(t, out.Err, ErrFutureDate)
	})

	t.Run("unrecognized status", func(t *testing.T) {
		out := f.engine.ApplyManual(ctx, "sched-1", "2026-03-02", "teacher-1",
			ManualEntry{AttendeeID: "student-1", Status: "vacation"})
		assert.ErrorIs(t, out.Err, ErrInvalidStatus)
	})

	t.Run("unknown schedule", func(t *testing.T) {
		out := f.engine.ApplyManual(ctx, "sched-9", "2026-03-02", "teacher-1",
			ManualEntry{AttendeeID: "student-1", Status: ledger.StatusPresent})
		assert.ErrorIs(t, out.Err, token.ErrInvalidScope)
	})

	t.Run("proof flag when leave status lacks proof", func(t *testing.T) {
		out := f.engine.ApplyManual(ctx, "sched-1", "2026-03-02", "teacher-1",
			ManualEntry{AttendeeID: "student-2", Status: ledger.StatusSick})
		require.NoError(t, out.Err)
		assert.True(t, out.Applied, "the write lands; proof may follow minutes later")
		assert.True(t, out.ProofRequired)
	})
}

func TestApplyBulkPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	outcomes, err := f.engine.ApplyBulk(ctx, "sched-1", "2026-03-02", "teacher-1", []ManualEntry{
		{AttendeeID: "student-1", Status: ledger.StatusPresent},
		{AttendeeID: "student-2", Status: "dispen"}, // not normalized upstream
		{AttendeeID: "student-3", Status: ledger.StatusLate},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.True(t, outcomes[0].Applied)
	assert.ErrorIs(t, outcomes[1].Err, ErrInvalidStatus)
	assert.True(t, outcomes[2].Applied)

	all, err := f.records.Query(ctx, ledger.Filter{ScheduleID: "sched-1"})
	require.NoError(t, err)
	require.Len(t, all, 2, "only items 1 and 3 committed")
	assert.Equal(t, "student-1", all[0].AttendeeID)
	assert.Equal(t, "student-3", all[1].AttendeeID)
	assert.Equal(t, ledger.SourceBulk, all[0].Source)
}

func TestApplyBulkBatchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.ApplyBulk(ctx, "sched-1", "2026-03-02", "teacher-1", nil)
	assert.Error(t, err)

	_, err = f.engine.ApplyBulk(ctx, "sched-1", "2099-01-01", "teacher-1",
		[]ManualEntry{{AttendeeID: "student-1", Status: ledger.StatusPresent}})
	assert.ErrorIs(t, err, ErrFutureDate)

	_, err = f.engine.ApplyBulk(ctx, "sched-9", "2026-03-02", "teacher-1",
		[]ManualEntry{{AttendeeID: "student-1", Status: ledger.StatusPresent}})
	assert.ErrorIs(t, err, token.ErrInvalidScope)
}

func TestBulkOverridesScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tok := f.issue(t, token.AttendeeStudent, "student-1")
	out := f.engine.ApplyScan(ctx, tok.Value, "student-1", "")
	require.NoError(t, out.Err)

	outcomes, err := f.engine.ApplyBulk(ctx, "sched-1", "2026-03-02", "teacher-1",
		[]ManualEntry{{AttendeeID: "student-1", Status: ledger.StatusAbsent, Reason: "left after scanning"}})
	require.NoError(t, err)
	require.True(t, outcomes[0].Applied)

	stored, err := f.records.Get(ctx, ledger.Key{AttendeeID: "student-1", ScheduleID: "sched-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusAbsent, stored.Status)
	assert.Equal(t, ledger.SourceBulk, stored.Source)
}
