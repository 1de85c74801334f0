// Package history keeps the agent's call history: an in-memory ordered list
// mirrored to either the local persisted store or the remote record store.
//
// Invariants:
// - Mutations are applied to the in-memory list before any backend is touched.
// - A logical call appears at most once in the list, under its current id.
// - Failed remote operations never roll back the in-memory list; they stay in
//   the reconciliation log until Sync retries them.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calldesk/internal/calls"
	"calldesk/internal/notify"
)

// Mode is the process-wide persistence backend. It is chosen once.
type Mode int

const (
	ModeLocal Mode = iota
	ModeRemote
)

func (m Mode) String() string {
	if m == ModeRemote {
		return "remote"
	}
	return "local"
}

// ModeFor selects Remote when an authentication credential is present.
func ModeFor(credential string) Mode {
	if credential != "" {
		return ModeRemote
	}
	return ModeLocal
}

// LocalBackend persists the whole history as one value. Save always rewrites everything.
type LocalBackend interface {
	Load(ctx context.Context) ([]calls.Record, error)
	Save(ctx context.Context, records []calls.Record) error
}

// RemoteBackend is the remote record store. Implementations return errors
// matching calls.ErrNotFound when an addressed id is unknown to the server.
type RemoteBackend interface {
	List(ctx context.Context) ([]calls.Record, error)
	// Create stores rec and returns it under its server-assigned id.
	Create(ctx context.Context, rec calls.Record) (calls.Record, error)
	Update(ctx context.Context, id string, rec calls.Record) error
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Mode   Mode
	Local  LocalBackend
	Remote RemoteBackend

	Notifier notify.Notifier
	// OnChange receives a snapshot after every visible change.
	// It must not call mutating Store methods.
	OnChange func([]calls.Record)
	Logger   *slog.Logger

	// OpTimeout bounds each remote operation. Default 15s.
	OpTimeout time.Duration
}

// UpsertOptions tunes one Upsert.
type UpsertOptions struct {
	// Announce sends a success notice once the backend confirms the write.
	Announce bool
}

type Store struct {
	mode      Mode
	local     LocalBackend
	remote    RemoteBackend
	notifier  notify.Notifier
	onChange  func([]calls.Record)
	log       *slog.Logger
	opTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	renderMu sync.Mutex
	saveMu   sync.Mutex

	mu      sync.Mutex
	records []calls.Record
	pending map[calls.ID]*pendingOp
	// aliases maps reconciled local ids to their remote ids.
	aliases map[int64]calls.ID
	// imported holds local ids taken from the device-local history by Import.
	// They are dropped from that history once the remote store owns them.
	imported map[calls.ID]struct{}
}

var ErrBackendMissing = errors.New("history: backend not configured")

func NewStore(opts Options) (*Store, error) {
	switch opts.Mode {
	case ModeLocal:
		if opts.Local == nil {
			return nil, fmt.Errorf("%w: local mode needs a local backend", ErrBackendMissing)
		}
	case ModeRemote:
		if opts.Remote == nil {
			return nil, fmt.Errorf("%w: remote mode needs a remote backend", ErrBackendMissing)
		}
	default:
		return nil, fmt.Errorf("history: unknown mode %d", opts.Mode)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		mode:      opts.Mode,
		local:     opts.Local,
		remote:    opts.Remote,
		notifier:  opts.Notifier,
		onChange:  opts.OnChange,
		log:       opts.Logger.With("component", "history", "mode", opts.Mode.String()),
		opTimeout: opts.OpTimeout,
		ctx:       ctx,
		cancel:    cancel,
		pending:   map[calls.ID]*pendingOp{},
		aliases:   map[int64]calls.ID{},
		imported:  map[calls.ID]struct{}{},
	}, nil
}

func (s *Store) Mode() Mode { return s.mode }

// LoadInitial replaces the in-memory list with the backend's contents.
// In remote mode, local-id entries still waiting in the reconciliation log are kept.
func (s *Store) LoadInitial(ctx context.Context) error {
	var (
		recs []calls.Record
		err  error
	)
	if s.mode == ModeLocal {
		recs, err = s.local.Load(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %w", calls.ErrStorage, err)
		}
	} else {
		recs, err = s.remote.List(ctx)
		if err != nil {
			err = classify(err)
		}
	}
	if err != nil {
		s.log.Error("history load failed", "err", err)
		s.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: "Could not load call history", Err: err})
		return err
	}

	s.mu.Lock()
	var keep []calls.Record
	if s.mode == ModeRemote {
		for _, r := range s.records {
			if _, ok := s.pending[r.ID]; ok && r.ID.IsLocal() {
				keep = append(keep, r)
			}
		}
	}
	s.records = make([]calls.Record, 0, len(keep)+len(recs))
	s.records = append(s.records, keep...)
	for _, r := range recs {
		s.records = append(s.records, r.Clone())
	}
	s.mu.Unlock()

	s.render()
	return nil
}

// All returns a copy of the history, newest first.
func (s *Store) All() []calls.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Get(id calls.ID) (calls.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.records[i].Clone(), true
	}
	return calls.Record{}, false
}

// Resolve returns the current id of the logical call first known as id.
func (s *Store) Resolve(id calls.ID) calls.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(id)
}

// Upsert replaces the entry with rec.ID or prepends rec, then persists.
// The returned error reports synchronous local storage failures only; remote
// outcomes are delivered through the Notifier.
func (s *Store) Upsert(ctx context.Context, rec calls.Record, opts UpsertOptions) error {
	if rec.ID.IsZero() {
		return fmt.Errorf("%w: record id is required", calls.ErrValidation)
	}
	rec = rec.Clone()

	s.mu.Lock()
	rec.ID = s.resolveLocked(rec.ID)
	if i := s.indexLocked(rec.ID); i >= 0 {
		s.records[i] = rec
	} else {
		s.records = append([]calls.Record{rec}, s.records...)
	}
	var start func()
	if s.mode == ModeRemote {
		start = s.enqueueWriteLocked(rec, opts.Announce)
	}
	s.mu.Unlock()

	s.render()

	if s.mode == ModeLocal {
		if err := s.persistLocal(ctx); err != nil {
			return err
		}
		if opts.Announce {
			s.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Message: "Call saved"})
		}
		return nil
	}
	if start != nil {
		start()
	}
	return nil
}

// Remove drops id from the history. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id calls.ID) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.records = append(s.records[:i:i], s.records[i+1:]...)
	var (
		start  func()
		forget bool
	)
	if s.mode == ModeRemote {
		start = s.enqueueDeleteLocked(id)
		if _, ok := s.imported[id]; ok {
			// An in-flight create forgets the record when it completes.
			if p, ok := s.pending[id]; !ok || !p.inFlight {
				delete(s.imported, id)
				forget = true
			}
		}
	}
	s.mu.Unlock()

	s.render()

	if s.mode == ModeLocal {
		return s.persistLocal(ctx)
	}
	if forget {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.forgetLocal(id)
		}()
	}
	if start != nil {
		start()
	}
	return nil
}

// AttachCRMID records the CRM id returned by a successful log-to-CRM call.
func (s *Store) AttachCRMID(ctx context.Context, id calls.ID, crmID string) error {
	if crmID == "" {
		return nil
	}
	rec, ok := s.Get(s.Resolve(id))
	if !ok {
		return nil
	}
	if rec.CRMID == crmID {
		return nil
	}
	rec.CRMID = crmID
	return s.Upsert(ctx, rec, UpsertOptions{})
}

// Import merges records from another backend (for example the device-local
// history of an agent who just authenticated). Known ids are skipped.
// In remote mode each imported local-id record is removed from the local
// backend once the remote store has created it, so a later Import of the
// same history cannot push it twice.
func (s *Store) Import(ctx context.Context, recs []calls.Record) (int, error) {
	s.mu.Lock()
	var added []calls.Record
	for _, r := range recs {
		if r.ID.IsZero() {
			continue
		}
		if s.indexLocked(s.resolveLocked(r.ID)) >= 0 {
			continue
		}
		added = append(added, r.Clone())
		if s.mode == ModeRemote && s.local != nil && r.ID.IsLocal() {
			s.imported[r.ID] = struct{}{}
		}
	}
	s.records = append(added, s.records...)
	s.mu.Unlock()

	if len(added) == 0 {
		return 0, nil
	}
	s.render()

	if s.mode == ModeLocal {
		return len(added), s.persistLocal(ctx)
	}
	s.Sync(ctx)
	return len(added), nil
}

// Wait blocks until every in-flight remote operation has completed.
func (s *Store) Wait() { s.wg.Wait() }

// Close cancels in-flight remote operations and waits for them.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store) persistLocal(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap := s.All()
	if err := s.local.Save(ctx, snap); err != nil {
		err = fmt.Errorf("%w: %w", calls.ErrStorage, err)
		s.log.Error("local history save failed", "records", len(snap), "err", err)
		s.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: "Could not save call history on this device", Err: err})
		return err
	}
	return nil
}

// forgetLocal drops id from the local backend. Failures are reported; the
// record then stays eligible for another import.
func (s *Store) forgetLocal(id calls.ID) {
	if s.local == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	recs, err := s.local.Load(ctx)
	if err != nil {
		s.log.Warn("local history load failed", "record_id", id.String(), "err", err)
		return
	}
	kept := make([]calls.Record, 0, len(recs))
	for _, r := range recs {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(recs) {
		return
	}
	if err := s.local.Save(ctx, kept); err != nil {
		err = fmt.Errorf("%w: %w", calls.ErrStorage, err)
		s.log.Error("imported call not cleared from device history", "record_id", id.String(), "err", err)
		s.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: "Could not clear imported call from this device", Err: err})
	}
}

func (s *Store) render() {
	if s.onChange == nil {
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.onChange(s.All())
}

func (s *Store) snapshotLocked() []calls.Record {
	out := make([]calls.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) indexLocked(id calls.ID) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) resolveLocked(id calls.ID) calls.ID {
	if n, ok := id.Local(); ok {
		if rid, ok := s.aliases[n]; ok {
			return rid
		}
	}
	return id
}

func classify(err error) error {
	if err == nil || errors.Is(err, calls.ErrNotFound) || errors.Is(err, calls.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", calls.ErrNetwork, err)
}
