package localstore

import (
	"context"
	"encoding/json"
	"sync"

	"calldesk/internal/calls"
)

// Memory holds the same layout in process memory. It is meant for tests and
// for running the desk without a Redis instance.
type Memory struct {
	mu      sync.Mutex
	history []byte
	draft   []byte

	// SaveErr, when set, is returned by Save to simulate a full store.
	SaveErr error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) ([]calls.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.history == nil {
		return nil, nil
	}
	return decodeHistory(m.history)
}

func (m *Memory) Save(ctx context.Context, recs []calls.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	raw, err := encodeHistory(recs)
	if err != nil {
		return err
	}
	m.history = raw
	return nil
}

// Raw returns the persisted blob.
func (m *Memory) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.history...)
}

func (m *Memory) SaveDraft(ctx context.Context, s calls.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = raw
	return nil
}

func (m *Memory) LoadDraft(ctx context.Context) (calls.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return calls.Session{}, false, nil
	}
	var s calls.Session
	if err := json.Unmarshal(m.draft, &s); err != nil {
		return calls.Session{}, false, err
	}
	return s, true, nil
}

func (m *Memory) ClearDraft(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = nil
	return nil
}
