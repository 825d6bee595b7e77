package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Occurrence is one lesson instance as resolved by the external scheduling
// service. It is immutable and referenced by id only; this engine never
// creates or edits schedules.
type Occurrence struct {
	ScheduleID string    `json:"schedule_id"`
	Subject    string    `json:"subject"`
	TeacherID  string    `json:"teacher_id"`
	ClassID    string    `json:"class_id"`
	Date       string    `json:"date"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
}

// ErrNotFound is returned when a schedule id does not resolve.
var ErrNotFound = errors.New("schedule not found")

// Resolver resolves schedule ids against the scheduling collaborator.
type Resolver interface {
	Resolve(ctx context.Context, scheduleID string) (Occurrence, error)
}

// Memory is an in-process resolver for dev and tests.
type Memory struct {
	mu          sync.RWMutex
	occurrences map[string]Occurrence
}

// NewMemory creates an empty in-memory resolver.
func NewMemory() *Memory {
	return &Memory{occurrences: make(map[string]Occurrence)}
}

// Add registers an occurrence.
func (m *Memory) Add(occ Occurrence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.occurrences[occ.ScheduleID] = occ
}

// Resolve returns the occurrence for scheduleID.
func (m *Memory) Resolve(_ context.Context, scheduleID string) (Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	occ, ok := m.occurrences[scheduleID]
	if !ok {
		return Occurrence{}, fmt.Errorf("schedule %q: %w", scheduleID, ErrNotFound)
	}
	return occ, nil
}
