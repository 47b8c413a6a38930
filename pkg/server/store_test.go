package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-loop/pkg/database"
)

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]*database.Run
	order  []uuid.UUID
	logs   map[uuid.UUID][]database.LogEntry
	states map[uuid.UUID]int
}

func newMemStore() *memStore {
	return &memStore{
		runs:   map[uuid.UUID]*database.Run{},
		logs:   map[uuid.UUID][]database.LogEntry{},
		states: map[uuid.UUID]int{},
	}
}

func (m *memStore) CreateRun(ctx context.Context, topic string, params any) (*database.Run, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	run := &database.Run{ID: uuid.New(), Topic: topic, Status: database.StatusPending, Params: raw, CreatedAt: now, UpdatedAt: now}
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	cp := *run
	return &cp, nil
}

func (m *memStore) GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, database.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Run
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.runs[m.order[i]])
	}
	return out, nil
}

func (m *memStore) update(id uuid.UUID, fn func(*database.Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return database.ErrRunNotFound
	}
	fn(run)
	run.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return m.update(id, func(r *database.Run) { r.Status = database.StatusRunning })
}

func (m *memStore) SaveState(ctx context.Context, id uuid.UUID, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.update(id, func(r *database.Run) {
		r.State = raw
		m.states[id]++
	})
}

func (m *memStore) CompleteRun(ctx context.Context, id uuid.UUID, report string) error {
	return m.update(id, func(r *database.Run) {
		r.Status = database.StatusCompleted
		r.Report = &report
	})
}

func (m *memStore) FailRun(ctx context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(r *database.Run) {
		r.Status = database.StatusFailed
		r.Error = &reason
	})
}

func (m *memStore) AppendLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[runID]
	m.logs[runID] = append(entries, database.LogEntry{
		ID: len(entries) + 1, Timestamp: ts, Level: level, Message: message, Metadata: metadata,
	})
	return nil
}

func (m *memStore) ListLogs(ctx context.Context, runID uuid.UUID) ([]database.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.LogEntry(nil), m.logs[runID]...), nil
}

func (m *memStore) run(id uuid.UUID) database.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}
