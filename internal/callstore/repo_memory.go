package callstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{rows: map[string]Call{}} }

func (r *MemoryRepo) List(ctx context.Context, o Owner) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.rows {
		if c.WorkspaceID == o.WorkspaceID && c.AgentID == o.AgentID {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Doc.StartTime.Equal(out[j].Doc.StartTime) {
			return out[i].Doc.StartTime.After(out[j].Doc.StartTime)
		}
		return out[i].Doc.CreatedAt.After(out[j].Doc.CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, o Owner, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok || c.WorkspaceID != o.WorkspaceID || c.AgentID != o.AgentID {
		return Call{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) Insert(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[c.Doc.ID] = clone(c)
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[c.Doc.ID]
	if !ok || cur.WorkspaceID != c.WorkspaceID || cur.AgentID != c.AgentID {
		return Call{}, ErrNotFound
	}
	c.Doc.CreatedAt = cur.Doc.CreatedAt
	r.rows[c.Doc.ID] = clone(c)
	return clone(c), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, o Owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok || c.WorkspaceID != o.WorkspaceID || c.AgentID != o.AgentID {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func clone(c Call) Call {
	c.Doc.CustomData = c.Doc.CustomData.Clone()
	return c
}
