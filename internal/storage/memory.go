package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store for tests and one-off runs.
type Memory struct {
	mu       sync.Mutex
	sessions map[string][]byte
	runs     []RunRecord
	// SaveErr, when set, fails every SaveSession.
	SaveErr error
	// LoadErr, when set, fails every LoadSession.
	LoadErr error
}

func NewMemory() *Memory { return &Memory{sessions: map[string][]byte{}} }

func (m *Memory) LoadSession(ctx context.Context, identity string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, false, m.LoadErr
	}
	b, ok := m.sessions[normIdentity(identity)]
	return append([]byte(nil), b...), ok, nil
}

func (m *Memory) SaveSession(ctx context.Context, identity string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.sessions[normIdentity(identity)] = append([]byte(nil), blob...)
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, normIdentity(identity))
	return nil
}

func (m *Memory) AppendRun(ctx context.Context, r RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunRecord
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
