package summary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presensi/internal/ledger"
)

func seed(t *testing.T, m *ledger.Memory, attendee, sched, date string, status ledger.Status) {
	t.Helper()
	require.NoError(t, m.Put(context.Background(), ledger.Record{
		AttendeeID: attendee,
		ScheduleID: sched,
		ClassID:    "XII-A",
		Date:       date,
		Status:     status,
		Source:     ledger.SourceManual,
		UpdatedAt:  time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		UpdatedBy:  "teacher-1",
	}))
}

func TestDaily(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemory()
	a := New(m)

	seed(t, m, "s1", "sched-1", "2026-03-02", ledger.StatusPresent)
	seed(t, m, "s1", "sched-2", "2026-03-02", ledger.StatusPresent)
	seed(t, m, "s1", "sched-1", "2026-03-03", ledger.StatusLate)
	seed(t, m, "s1", "sched-1", "2026-03-20", ledger.StatusSick)
	seed(t, m, "s2", "sched-1", "2026-03-02", ledger.StatusAbsent)

	counts, err := a.Daily(ctx, "s1", "2026-03-01", "2026-03-05")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[ledger.StatusPresent])
	assert.Equal(t, 1, counts[ledger.StatusLate])
	assert.Equal(t, 0, counts[ledger.StatusSick], "out of range")
	assert.Equal(t, 0, counts[ledger.StatusAbsent], "other attendee")
}

func TestDailyEmptyInput(t *testing.T) {
	a := New(ledger.NewMemory())
	counts, err := a.Daily(context.Background(), "nobody", "2026-01-01", "2026-12-31")
	require.NoError(t, err, "absence of data is not a failure")
	assert.Empty(t, counts)
}

func TestMonthly(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemory()
	a := New(m)

	// January: 2 present, 1 late -> 67%. February: nothing. March: 1 absent -> 0%.
	seed(t, m, "s1", "sched-1", "2026-01-05", ledger.StatusPresent)
	seed(t, m, "s1", "sched-1", "2026-01-06", ledger.StatusPresent)
	seed(t, m, "s1", "sched-1", "2026-01-07", ledger.StatusLate)
	seed(t, m, "s1", "sched-1", "2026-03-02", ledger.StatusAbsent)

	months, err := a.Monthly(ctx, "s1", "2026-01", "2026-03")
	require.NoError(t, err)
	require.Len(t, months, 3, "empty months still emitted for stable chart axes")

	assert.Equal(t, "2026-01", months[0].Month)
	assert.Equal(t, 3, months[0].Total)
	assert.Equal(t, 67, months[0].PercentagePresent)

	assert.Equal(t, "2026-02", months[1].Month)
	assert.Equal(t, 0, months[1].Total)
	assert.Empty(t, months[1].Counts)
	assert.Equal(t, 0, months[1].PercentagePresent, "zero, never NaN")

	assert.Equal(t, "2026-03", months[2].Month)
	assert.Equal(t, 1, months[2].Counts[ledger.StatusAbsent])
	assert.Equal(t, 0, months[2].PercentagePresent)
}

func TestMonthlyBadInput(t *testing.T) {
	a := New(ledger.NewMemory())
	_, err := a.Monthly(context.Background(), "s1", "March", "2026-03")
	assert.Error(t, err)
}

func TestClass(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemory()
	a := New(m)

	seed(t, m, "s9", "sched-1", "2026-03-02", ledger.StatusPresent)
	seed(t, m, "s1", "sched-1", "2026-03-02", ledger.StatusLate)
	seed(t, m, "s1", "sched-1", "2026-03-03", ledger.StatusPresent)
	seed(t, m, "s5", "sched-1", "2026-03-02", ledger.StatusExcused)

	students, err := a.Class(ctx, "XII-A", "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, students, 3)

	// Ascending attendee id, stable across calls; exports rely on it.
	assert.Equal(t, "s1", students[0].AttendeeID)
	assert.Equal(t, "s5", students[1].AttendeeID)
	assert.Equal(t, "s9", students[2].AttendeeID)

	assert.Equal(t, 2, students[0].Total)
	assert.Equal(t, 50, students[0].PercentagePresent)
	assert.Equal(t, 100, students[2].PercentagePresent)

	again, err := a.Class(ctx, "XII-A", "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, students, again)
}

func TestClassUnknownClass(t *testing.T) {
	a := New(ledger.NewMemory())
	students, err := a.Class(context.Background(), "XI-B", "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Empty(t, students)
}
