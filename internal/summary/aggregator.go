package summary

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"presensi/internal/ledger"
)

// Aggregator computes attendance summaries from ledger contents. It never
// mutates state and never errors on empty input: an attendee with no history
// gets zero-valued summaries so dashboards render the same shape regardless.
type Aggregator struct {
	records ledger.Store
}

// New creates an aggregator over the given ledger.
func New(records ledger.Store) *Aggregator {
	return &Aggregator{records: records}
}

// MonthBreakdown is one month of an attendee's history. Months with no
// records still appear with empty counts and a zero percentage so chart axes
// stay stable.
type MonthBreakdown struct {
	Month             string                `json:"month"`
	Counts            map[ledger.Status]int `json:"counts"`
	Total             int                   `json:"total"`
	PercentagePresent int                   `json:"percentage_present"`
}

// StudentBreakdown is one attendee's totals inside a class summary.
type StudentBreakdown struct {
	AttendeeID        string                `json:"attendee_id"`
	Counts            map[ledger.Status]int `json:"counts"`
	Total             int                   `json:"total"`
	PercentagePresent int                   `json:"percentage_present"`
}

// Daily counts an attendee's records per status over an inclusive date
// range. Dates with no record simply do not count; absence-by-omission is
// the caller's policy, not this engine's.
func (a *Aggregator) Daily(ctx context.Context, attendeeID, dateFrom, dateTo string) (map[ledger.Status]int, error) {
	recs, err := a.records.Query(ctx, ledger.Filter{
		AttendeeID: attendeeID,
		DateFrom:   dateFrom,
		DateTo:     dateTo,
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[ledger.Status]int)
	for _, rec := range recs {
		counts[rec.Status]++
	}
	return counts, nil
}

const monthLayout = "2006-01"

// Monthly groups an attendee's records by calendar month from monthFrom to
// monthTo inclusive (YYYY-MM). Every month in the range is emitted even when
// empty.
func (a *Aggregator) Monthly(ctx context.Context, attendeeID, monthFrom, monthTo string) ([]MonthBreakdown, error) {
	from, err := time.Parse(monthLayout, monthFrom)
	if err != nil {
		return nil, fmt.Errorf("bad month %q: %w", monthFrom, err)
	}
	to, err := time.Parse(monthLayout, monthTo)
	if err != nil {
		return nil, fmt.Errorf("bad month %q: %w", monthTo, err)
	}
	if to.Before(from) {
		from, to = to, from
	}

	recs, err := a.records.Query(ctx, ledger.Filter{
		AttendeeID: attendeeID,
		DateFrom:   from.Format("2006-01-02"),
		DateTo:     to.AddDate(0, 1, -1).Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]map[ledger.Status]int)
	for _, rec := range recs {
		month := rec.Date[:len(monthLayout)]
		if byMonth[month] == nil {
			byMonth[month] = make(map[ledger.Status]int)
		}
		byMonth[month][rec.Status]++
	}

	var out []MonthBreakdown
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		month := m.Format(monthLayout)
		counts := byMonth[month]
		if counts == nil {
			counts = make(map[ledger.Status]int)
		}
		out = append(out, breakdown(month, counts))
	}
	return out, nil
}

// Class computes the per-student breakdown for a class over a date range,
// ordered by ascending attendee id so repeated calls are deterministic (the
// export features rely on that).
func (a *Aggregator) Class(ctx context.Context, classID, dateFrom, dateTo string) ([]StudentBreakdown, error) {
	recs, err := a.records.Query(ctx, ledger.Filter{
		ClassID:  classID,
		DateFrom: dateFrom,
		DateTo:   dateTo,
	})
	if err != nil {
		return nil, err
	}

	byStudent := make(map[string]map[ledger.Status]int)
	for _, rec := range recs {
		if byStudent[rec.AttendeeID] == nil {
			byStudent[rec.AttendeeID] = make(map[ledger.Status]int)
		}
		byStudent[rec.AttendeeID][rec.Status]++
	}

	ids := make([]string, 0, len(byStudent))
	for id := range byStudent {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]StudentBreakdown, 0, len(ids))
	for _, id := range ids {
		b := breakdown("", byStudent[id])
		out = append(out, StudentBreakdown{
			AttendeeID:        id,
			Counts:            b.Counts,
			Total:             b.Total,
			PercentagePresent: b.PercentagePresent,
		})
	}
	return out, nil
}

// breakdown derives totals and the rounded present percentage. Zero records
// yield a zero percentage, never NaN.
func breakdown(month string, counts map[ledger.Status]int) MonthBreakdown {
	total := 0
	for _, n := range counts {
		total += n
	}
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(counts[ledger.StatusPresent]) / float64(total) * 100))
	}
	return MonthBreakdown{Month: month, Counts: counts, Total: total, PercentagePresent: pct}
}
