package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"calldesk/internal/calls"
	"calldesk/internal/notify"
)

type fakeLocal struct {
	mu      sync.Mutex
	saved   []calls.Record
	saves   int
	saveErr error
}

func (f *fakeLocal) Load(ctx context.Context) ([]calls.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calls.Record(nil), f.saved...), nil
}

func (f *fakeLocal) Save(ctx context.Context, recs []calls.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.saved = append([]calls.Record(nil), recs...)
	return nil
}

type fakeRemote struct {
	mu        sync.Mutex
	docs      map[string]calls.Record
	seq       int
	creates   []string
	updates   []string
	deletes   []string
	createErr error
	updateErr error
	deleteErr error

	// gate, when set, blocks Create until closed; started is signalled first.
	gate    chan struct{}
	started chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]calls.Record{}}
}

func (f *fakeRemote) List(ctx context.Context) ([]calls.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]calls.Record, 0, len(f.docs))
	for _, r := range f.docs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) Create(ctx context.Context, rec calls.Record) (calls.Record, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return calls.Record{}, f.createErr
	}
	if rec.ID.IsRemote() {
		return calls.Record{}, errors.New("create must not carry a remote id")
	}
	f.seq++
	id := fmt.Sprintf("%024x", f.seq)
	rec.ID = calls.MustRemoteID(id)
	f.docs[id] = rec
	f.creates = append(f.creates, rec.Notes)
	return rec, nil
}

func (f *fakeRemote) Update(ctx context.Context, id string, rec calls.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.docs[id]; !ok {
		return calls.ErrNotFound
	}
	f.docs[id] = rec
	f.updates = append(f.updates, id+":"+rec.Notes)
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.docs[id]; !ok {
		return calls.ErrNotFound
	}
	delete(f.docs, id)
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeRemote) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *fakeRemote) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates), len(f.deletes)
}

func record(id calls.ID, notes string) calls.Record {
	return calls.Record{
		ID:          id,
		CallerName:  "Jane Doe",
		CallerPhone: "555-1234",
		CallType:    calls.CallTypeInbound,
		StartTime:   time.Unix(1700000000, 0).UTC(),
		EndTime:     time.Unix(1700000070, 0).UTC(),
		Duration:    40000,
		Status:      calls.StatusCompleted,
		Notes:       notes,
	}
}

func newRemoteStore(t *testing.T, remote *fakeRemote) (*Store, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	s, err := NewStore(Options{Mode: ModeRemote, Remote: remote, Notifier: rec})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(s.Close)
	return s, rec
}

func TestNewStore_RequiresBackendForMode(t *testing.T) {
	if _, err := NewStore(Options{Mode: ModeRemote}); !errors.Is(err, ErrBackendMissing) {
		t.Fatalf("expected missing backend error, got %v", err)
	}
	if _, err := NewStore(Options{Mode: ModeLocal}); !errors.Is(err, ErrBackendMissing) {
		t.Fatalf("expected missing backend error, got %v", err)
	}
	if ModeFor("") != ModeLocal || ModeFor("token") != ModeRemote {
		t.Fatalf("unexpected mode selection")
	}
}

func TestLocal_UpsertPrependsReplacesAndPersists(t *testing.T) {
	local := &fakeLocal{}
	var renders int
	s, err := NewStore(Options{Mode: ModeLocal, Local: local, OnChange: func([]calls.Record) { renders++ }})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	_ = s.Upsert(ctx, record(calls.LocalID(1), "first"), UpsertOptions{})
	_ = s.Upsert(ctx, record(calls.LocalID(2), "second"), UpsertOptions{})
	_ = s.Upsert(ctx, record(calls.LocalID(1), "first edited"), UpsertOptions{})

	all := s.All()
	if len(all) != 2 || all[0].ID != calls.LocalID(2) || all[1].Notes != "first edited" {
		t.Fatalf("unexpected history: %+v", all)
	}
	if len(local.saved) != 2 || local.saves != 3 {
		t.Fatalf("expected full rewrite on every mutation, saves=%d len=%d", local.saves, len(local.saved))
	}
	if renders != 3 {
		t.Fatalf("expected 3 renders, got %d", renders)
	}
}

func TestLocal_StorageFailureIsSurfacedAndStateKept(t *testing.T) {
	local := &fakeLocal{saveErr: errors.New("quota exceeded")}
	rec := &notify.Recorder{}
	s, _ := NewStore(Options{Mode: ModeLocal, Local: local, Notifier: rec})

	err := s.Upsert(context.Background(), record(calls.LocalID(1), "x"), UpsertOptions{Announce: true})
	if !errors.Is(err, calls.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(s.All()) != 1 {
		t.Fatalf("optimistic state must be kept")
	}
	if rec.Count(notify.LevelError) != 1 || rec.Count(notify.LevelSuccess) != 0 {
		t.Fatalf("unexpected notices: %+v", rec.Notices())
	}
}

func TestRemove_IsIdempotent(t *testing.T) {
	local := &fakeLocal{}
	s, _ := NewStore(Options{Mode: ModeLocal, Local: local})
	ctx := context.Background()
	_ = s.Upsert(ctx, record(calls.LocalID(1), "x"), UpsertOptions{})

	if err := s.Remove(ctx, calls.LocalID(1)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, calls.LocalID(1)); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if len(s.All()) != 0 || len(local.saved) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestRemote_CreateReconcilesToSingleEntry(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan struct{}, 1)
	s, notices := newRemoteStore(t, remote)
	ctx := context.Background()

	l1 := calls.LocalID(1)
	if err := s.Upsert(ctx, record(l1, "offline call"), UpsertOptions{Announce: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := s.All(); len(got) != 1 || got[0].ID != l1 {
		t.Fatalf("optimistic entry must be visible before the network completes: %+v", got)
	}
	<-remote.started
	close(remote.gate)
	s.Wait()

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(all))
	}
	r1 := all[0].ID
	if !r1.IsRemote() {
		t.Fatalf("expected remote id after reconcile, got %v", r1)
	}
	if s.Resolve(l1) != r1 {
		t.Fatalf("expected local id to resolve to %v", r1)
	}
	if err := s.Remove(ctx, l1); err != nil {
		t.Fatalf("remove stale id: %v", err)
	}
	s.Wait()
	if len(s.All()) != 1 {
		t.Fatalf("removing the stale local id must be a no-op")
	}
	if _, _, deletes := remote.counts(); deletes != 0 {
		t.Fatalf("expected no remote delete")
	}
	if notices.Count(notify.LevelSuccess) != 1 {
		t.Fatalf("expected one success notice, got %+v", notices.Notices())
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("expected empty reconciliation log, got %+v", s.Pending())
	}
}

func TestRemote_UpsertOfStaleLocalIDIsRedirected(t *testing.T) {
	remote := newFakeRemote()
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	l1 := calls.LocalID(1)
	_ = s.Upsert(ctx, record(l1, "v1"), UpsertOptions{})
	s.Wait()

	_ = s.Upsert(ctx, record(l1, "v2"), UpsertOptions{})
	s.Wait()

	all := s.All()
	if len(all) != 1 || all[0].Notes != "v2" || !all[0].ID.IsRemote() {
		t.Fatalf("expected a single updated remote entry, got %+v", all)
	}
	creates, updates, _ := remote.counts()
	if creates != 1 || updates != 1 {
		t.Fatalf("expected 1 create and 1 update, got %d/%d", creates, updates)
	}
}

func TestRemote_WriteDuringCreateIsCoalesced(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan struct{}, 4)
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	l1 := calls.LocalID(1)
	_ = s.Upsert(ctx, record(l1, "v1"), UpsertOptions{})
	<-remote.started
	_ = s.Upsert(ctx, record(l1, "v2"), UpsertOptions{})
	_ = s.Upsert(ctx, record(l1, "v3"), UpsertOptions{})
	close(remote.gate)
	s.Wait()

	all := s.All()
	if len(all) != 1 || all[0].Notes != "v3" {
		t.Fatalf("unexpected history: %+v", all)
	}
	rid, _ := all[0].ID.Remote()
	if remote.creates[0] != "v1" || len(remote.creates) != 1 {
		t.Fatalf("expected a single create, got %v", remote.creates)
	}
	if len(remote.updates) != 1 || remote.updates[0] != rid+":v3" {
		t.Fatalf("expected one update addressed by the remote id, got %v", remote.updates)
	}
}

func TestRemote_RemoveDuringCreateDeletesAfterwards(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan struct{}, 4)
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	l1 := calls.LocalID(1)
	_ = s.Upsert(ctx, record(l1, "v1"), UpsertOptions{})
	<-remote.started
	_ = s.Remove(ctx, l1)
	if len(s.All()) != 0 {
		t.Fatalf("remove must apply immediately")
	}
	close(remote.gate)
	s.Wait()

	creates, _, deletes := remote.counts()
	if creates != 1 || deletes != 1 {
		t.Fatalf("expected create then delete, got %d/%d", creates, deletes)
	}
	if len(s.All()) != 0 || len(s.Pending()) != 0 {
		t.Fatalf("expected nothing left")
	}
}

func TestRemote_ResaveAfterRemoveDuringCreateKeepsRecord(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan struct{}, 4)
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	l1 := calls.LocalID(1)
	_ = s.Upsert(ctx, record(l1, "v1"), UpsertOptions{})
	<-remote.started
	_ = s.Remove(ctx, l1)
	_ = s.Upsert(ctx, record(l1, "v2"), UpsertOptions{})
	close(remote.gate)
	s.Wait()

	creates, updates, deletes := remote.counts()
	if creates != 1 || updates != 1 || deletes != 0 {
		t.Fatalf("expected create then update, got %d/%d/%d", creates, updates, deletes)
	}
	all := s.All()
	if len(all) != 1 || !all[0].ID.IsRemote() || all[0].Notes != "v2" {
		t.Fatalf("expected the re-saved record under its remote id, got %+v", all)
	}
	rid, _ := all[0].ID.Remote()
	if _, ok := remote.docs[rid]; !ok {
		t.Fatalf("expected record kept on the server")
	}
}

func TestRemote_RemoveLocalOnlyIDSkipsRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.setCreateErr(errors.New("offline"))
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	_ = s.Upsert(ctx, record(calls.LocalID(9), "x"), UpsertOptions{})
	s.Wait()
	if len(s.Pending()) != 1 {
		t.Fatalf("expected failed create in the log")
	}
	_ = s.Remove(ctx, calls.LocalID(9))
	s.Wait()
	if _, _, deletes := remote.counts(); deletes != 0 {
		t.Fatalf("local-only ids must not reach the remote store")
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("expected log entry dropped")
	}
}

func TestRemote_NetworkFailureKeepsStateAndSyncRetries(t *testing.T) {
	remote := newFakeRemote()
	remote.setCreateErr(errors.New("connection refused"))
	s, notices := newRemoteStore(t, remote)
	ctx := context.Background()

	_ = s.Upsert(ctx, record(calls.LocalID(1), "x"), UpsertOptions{})
	s.Wait()

	if len(s.All()) != 1 || !s.All()[0].ID.IsLocal() {
		t.Fatalf("optimistic entry must be kept")
	}
	if notices.Count(notify.LevelError) != 1 {
		t.Fatalf("expected an error notice")
	}
	pending := s.Pending()
	if len(pending) != 1 || !errors.Is(pending[0].Err, calls.ErrNetwork) || pending[0].InFlight {
		t.Fatalf("expected failed create in log, got %+v", pending)
	}

	remote.setCreateErr(nil)
	if n := s.Sync(ctx); n != 1 {
		t.Fatalf("expected 1 retried op, got %d", n)
	}
	s.Wait()
	if !s.All()[0].ID.IsRemote() || len(s.Pending()) != 0 {
		t.Fatalf("expected reconciled entry after sync")
	}
}

func TestRemote_UpdateAndDeleteRemoteIDs(t *testing.T) {
	remote := newFakeRemote()
	s, notices := newRemoteStore(t, remote)
	ctx := context.Background()

	_ = s.Upsert(ctx, record(calls.LocalID(1), "v1"), UpsertOptions{})
	s.Wait()
	id := s.All()[0].ID

	_ = s.Upsert(ctx, record(id, "v2"), UpsertOptions{})
	s.Wait()
	_ = s.Remove(ctx, id)
	s.Wait()
	_ = s.Remove(ctx, id)
	s.Wait()

	creates, updates, deletes := remote.counts()
	if creates != 1 || updates != 1 || deletes != 1 {
		t.Fatalf("unexpected calls: %d/%d/%d", creates, updates, deletes)
	}
	if notices.Count(notify.LevelError) != 0 {
		t.Fatalf("unexpected error notices: %+v", notices.Notices())
	}
}

func TestRemote_DeleteOfUnknownRemoteIDIsNotAnError(t *testing.T) {
	remote := newFakeRemote()
	s, notices := newRemoteStore(t, remote)
	ctx := context.Background()

	gone := calls.MustRemoteID("0000000000000000000000ff")
	s.mu.Lock()
	s.records = []calls.Record{record(gone, "x")}
	s.mu.Unlock()

	_ = s.Remove(ctx, gone)
	s.Wait()
	if notices.Count(notify.LevelError) != 0 || len(s.Pending()) != 0 {
		t.Fatalf("expected delete of unknown id to count as done")
	}
}

func TestRemote_UpdateNotFoundIsReportedDistinctly(t *testing.T) {
	remote := newFakeRemote()
	s, notices := newRemoteStore(t, remote)
	ctx := context.Background()

	gone := calls.MustRemoteID("0000000000000000000000aa")
	_ = s.Upsert(ctx, record(gone, "edit"), UpsertOptions{})
	s.Wait()

	ns := notices.Notices()
	if len(ns) != 1 || !errors.Is(ns[0].Err, calls.ErrNotFound) || ns[0].Message != "Call no longer exists on server" {
		t.Fatalf("unexpected notices: %+v", ns)
	}
	if len(s.All()) != 1 {
		t.Fatalf("optimistic entry must be kept")
	}
}

func TestRemote_LoadInitialReplacesList(t *testing.T) {
	remote := newFakeRemote()
	remote.docs["0000000000000000000000a1"] = record(calls.MustRemoteID("0000000000000000000000a1"), "server")
	s, _ := newRemoteStore(t, remote)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	all := s.All()
	if len(all) != 1 || all[0].Notes != "server" {
		t.Fatalf("unexpected history: %+v", all)
	}
}

func TestRemote_ImportPushesOfflineRecords(t *testing.T) {
	remote := newFakeRemote()
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	offline := []calls.Record{record(calls.LocalID(1), "a"), record(calls.LocalID(2), "b")}
	n, err := s.Import(ctx, offline)
	if err != nil || n != 2 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	s.Wait()

	for _, r := range s.All() {
		if !r.ID.IsRemote() {
			t.Fatalf("expected every imported record reconciled, got %v", r.ID)
		}
	}
	if n, _ := s.Import(ctx, offline); n != 0 {
		t.Fatalf("re-import of reconciled ids must be skipped, got %d", n)
	}
}

func TestRemote_ImportIsNotRepeatedAfterRestart(t *testing.T) {
	remote := newFakeRemote()
	offline := &fakeLocal{saved: []calls.Record{record(calls.LocalID(1), "offline")}}
	ctx := context.Background()

	open := func() *Store {
		s, err := NewStore(Options{Mode: ModeRemote, Remote: remote, Local: offline})
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		t.Cleanup(s.Close)
		return s
	}

	s1 := open()
	recs, _ := offline.Load(ctx)
	if n, err := s1.Import(ctx, recs); err != nil || n != 1 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	s1.Wait()
	if left, _ := offline.Load(ctx); len(left) != 0 {
		t.Fatalf("expected imported call cleared from device history, got %+v", left)
	}

	s2 := open()
	if err := s2.LoadInitial(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	recs, _ = offline.Load(ctx)
	if n, err := s2.Import(ctx, recs); err != nil || n != 0 {
		t.Fatalf("second import: n=%d err=%v", n, err)
	}
	s2.Wait()

	creates, _, _ := remote.counts()
	if creates != 1 || len(s2.All()) != 1 {
		t.Fatalf("expected one logical call, got creates=%d history=%d", creates, len(s2.All()))
	}
}

func TestRemote_RemovingFailedImportClearsDeviceHistory(t *testing.T) {
	remote := newFakeRemote()
	remote.setCreateErr(calls.ErrNetwork)
	offline := &fakeLocal{saved: []calls.Record{record(calls.LocalID(1), "a"), record(calls.LocalID(2), "b")}}
	s, err := NewStore(Options{Mode: ModeRemote, Remote: remote, Local: offline})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(s.Close)
	ctx := context.Background()

	recs, _ := offline.Load(ctx)
	if _, err := s.Import(ctx, recs); err != nil {
		t.Fatalf("import: %v", err)
	}
	s.Wait()
	if left, _ := offline.Load(ctx); len(left) != 2 {
		t.Fatalf("failed creates must stay on the device, got %d", len(left))
	}

	if err := s.Remove(ctx, calls.LocalID(1)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	s.Wait()
	left, _ := offline.Load(ctx)
	if len(left) != 1 || left[0].ID != calls.LocalID(2) {
		t.Fatalf("expected only the removed call cleared, got %+v", left)
	}
}

func TestAttachCRMID_FollowsReconciledID(t *testing.T) {
	remote := newFakeRemote()
	s, _ := newRemoteStore(t, remote)
	ctx := context.Background()

	l1 := calls.LocalID(1)
	_ = s.Upsert(ctx, record(l1, "x"), UpsertOptions{})
	s.Wait()

	if err := s.AttachCRMID(ctx, l1, "crm-42"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	s.Wait()
	all := s.All()
	if len(all) != 1 || all[0].CRMID != "crm-42" {
		t.Fatalf("expected crm id on the reconciled entry, got %+v", all)
	}
}
