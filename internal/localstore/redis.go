// Package localstore is the device-local persisted store: the whole call
// history as one JSON array under a fixed key, plus the in-progress session draft.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"calldesk/internal/calls"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultHistoryKey = "calldesk:call_history"
	DefaultDraftKey   = "calldesk:current_call"
)

// Redis keeps the local layout in a Redis instance on the agent's machine.
type Redis struct {
	rdb        redis.Cmdable
	historyKey string
	draftKey   string
}

func NewRedis(rdb redis.Cmdable, historyKey, draftKey string) *Redis {
	if historyKey == "" {
		historyKey = DefaultHistoryKey
	}
	if draftKey == "" {
		draftKey = DefaultDraftKey
	}
	return &Redis{rdb: rdb, historyKey: historyKey, draftKey: draftKey}
}

// Load returns the persisted array verbatim. A missing key is an empty history.
func (r *Redis) Load(ctx context.Context) ([]calls.Record, error) {
	raw, err := r.rdb.Get(ctx, r.historyKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: read %s: %w", r.historyKey, err)
	}
	return decodeHistory(raw)
}

// Save overwrites the whole array.
func (r *Redis) Save(ctx context.Context, recs []calls.Record) error {
	raw, err := encodeHistory(recs)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.historyKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("localstore: write %s: %w", r.historyKey, err)
	}
	return nil
}

func (r *Redis) SaveDraft(ctx context.Context, s calls.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("localstore: encode draft: %w", err)
	}
	if err := r.rdb.Set(ctx, r.draftKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("localstore: write %s: %w", r.draftKey, err)
	}
	return nil
}

func (r *Redis) LoadDraft(ctx context.Context) (calls.Session, bool, error) {
	raw, err := r.rdb.Get(ctx, r.draftKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return calls.Session{}, false, nil
	}
	if err != nil {
		return calls.Session{}, false, fmt.Errorf("localstore: read %s: %w", r.draftKey, err)
	}
	var s calls.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return calls.Session{}, false, fmt.Errorf("localstore: decode draft: %w", err)
	}
	return s, true, nil
}

func (r *Redis) ClearDraft(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.draftKey).Err(); err != nil {
		return fmt.Errorf("localstore: delete %s: %w", r.draftKey, err)
	}
	return nil
}

func encodeHistory(recs []calls.Record) ([]byte, error) {
	if recs == nil {
		recs = []calls.Record{}
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("localstore: encode history: %w", err)
	}
	return raw, nil
}

func decodeHistory(raw []byte) ([]calls.Record, error) {
	var recs []calls.Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("localstore: decode history: %w", err)
	}
	return recs, nil
}
