package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps the ledger in process memory. It backs dev deployments and
// tests; production uses the Postgres store. A date index keeps Query cheap
// for the date-bounded scans the aggregator issues.
type Memory struct {
	mu      sync.RWMutex
	records map[Key]Record
	byDate  map[string][]Key // insertion order per date
	dates   []string         // sorted unique ISO dates
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[Key]Record),
		byDate:  make(map[string][]Key),
	}
}

// Get returns the record for key, or (nil, nil) when none exists.
func (m *Memory) Get(_ context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put creates or replaces the record for its key.
func (m *Memory) Put(_ context.Context, rec Record) error {
	if !ValidDate(rec.Date) {
		return ErrBadDate
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	if _, exists := m.records[key]; !exists {
		m.byDate[rec.Date] = append(m.byDate[rec.Date], key)
		m.indexDate(rec.Date)
	}
	m.records[key] = rec
	return nil
}

// Query returns records matching the filter, ordered by (date, attendee,
// schedule) so repeated calls with unchanged data are deterministic.
func (m *Memory) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo := 0
	if f.DateFrom != "" {
		lo = sort.SearchStrings(m.dates, f.DateFrom)
	}
	hi := len(m.dates)
	if f.DateTo != "" {
		hi = sort.Search(len(m.dates), func(i int) bool { return m.dates[i] > f.DateTo })
	}
	if hi < lo {
		hi = lo
	}

	var out []Record
	for _, date := range m.dates[lo:hi] {
		for _, key := range m.byDate[date] {
			rec := m.records[key]
			if f.AttendeeID != "" && rec.AttendeeID != f.AttendeeID {
				continue
			}
			if f.ScheduleID != "" && rec.ScheduleID != f.ScheduleID {
				continue
			}
			if f.ClassID != "" && rec.ClassID != f.ClassID {
				continue
			}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].AttendeeID != out[j].AttendeeID {
			return out[i].AttendeeID < out[j].AttendeeID
		}
		return out[i].ScheduleID < out[j].ScheduleID
	})
	return out, nil
}

// indexDate inserts date into the sorted date slice if missing. Caller must
// hold the write lock.
func (m *Memory) indexDate(date string) {
	i := sort.SearchStrings(m.dates, date)
	if i < len(m.dates) && m.dates[i] == date {
		return
	}
	m.dates = append(m.dates, "")
	copy(m.dates[i+1:], m.dates[i:])
	m.dates[i] = date
}
