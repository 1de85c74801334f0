package history

import (
	"context"
	"errors"
	"sort"

	"calldesk/internal/calls"
	"calldesk/internal/notify"
)

type opKind string

const (
	opCreate opKind = "create"
	opUpdate opKind = "update"
	opDelete opKind = "delete"
)

// pendingOp is one entry of the reconciliation log. At most one operation per
// record id is in flight; later writes are coalesced into next.
type pendingOp struct {
	kind     opKind
	record   calls.Record
	announce bool
	inFlight bool
	err      error

	next         *calls.Record
	nextAnnounce bool
	removed      bool
}

// PendingOp describes a reconciliation log entry.
type PendingOp struct {
	ID       calls.ID
	Op       string
	InFlight bool
	Err      error
}

// Pending lists the reconciliation log, ordered by id.
func (s *Store) Pending() []PendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOp, 0, len(s.pending))
	for id, p := range s.pending {
		out = append(out, PendingOp{ID: id, Op: string(p.kind), InFlight: p.inFlight, Err: p.err})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Sync retries failed operations and creates any local-id entry that has
// never reached the remote store. It returns the number of operations started.
func (s *Store) Sync(ctx context.Context) int {
	if s.mode != ModeRemote {
		return 0
	}
	s.mu.Lock()
	var starts []func()
	for id, p := range s.pending {
		if p.inFlight {
			continue
		}
		p.inFlight = true
		p.err = nil
		starts = append(starts, s.launchLocked(id, p))
	}
	for _, r := range s.records {
		if !r.ID.IsLocal() {
			continue
		}
		if _, ok := s.pending[r.ID]; ok {
			continue
		}
		p := &pendingOp{kind: opCreate, record: r.Clone(), inFlight: true}
		s.pending[r.ID] = p
		starts = append(starts, s.launchLocked(r.ID, p))
	}
	s.mu.Unlock()

	for _, start := range starts {
		start()
	}
	return len(starts)
}

func (s *Store) enqueueWriteLocked(rec calls.Record, announce bool) func() {
	if p, ok := s.pending[rec.ID]; ok {
		if p.inFlight {
			r := rec.Clone()
			p.next = &r
			p.nextAnnounce = p.nextAnnounce || announce
			// A save after a pending remove revives the record.
			p.removed = false
			return nil
		}
		// Failed earlier: the newer content supersedes it. A failed create stays a create.
		if p.kind == opCreate {
			p.record = rec.Clone()
			p.announce = announce
			p.inFlight = true
			p.err = nil
			return s.launchLocked(rec.ID, p)
		}
	}
	kind := opUpdate
	if rec.ID.IsLocal() {
		kind = opCreate
	}
	p := &pendingOp{kind: kind, record: rec.Clone(), announce: announce, inFlight: true}
	s.pending[rec.ID] = p
	return s.launchLocked(rec.ID, p)
}

func (s *Store) enqueueDeleteLocked(id calls.ID) func() {
	if p, ok := s.pending[id]; ok {
		if p.inFlight {
			p.removed = true
			p.next = nil
			return nil
		}
		if p.kind == opCreate {
			// Never reached the remote store.
			delete(s.pending, id)
			return nil
		}
	}
	if !id.IsRemote() {
		return nil
	}
	p := &pendingOp{kind: opDelete, inFlight: true}
	s.pending[id] = p
	return s.launchLocked(id, p)
}

// launchLocked registers the operation with the wait group and returns the
// function that actually issues it. Callers run it after rendering.
func (s *Store) launchLocked(id calls.ID, p *pendingOp) func() {
	s.wg.Add(1)
	return func() { go s.run(id, p) }
}

func (s *Store) run(id calls.ID, p *pendingOp) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()

	switch p.kind {
	case opCreate:
		created, err := s.remote.Create(ctx, p.record)
		if err == nil && !created.ID.IsRemote() {
			err = errors.New("remote store returned a record without a remote id")
		}
		s.completeCreate(id, p, created.ID, classify(err))
	case opUpdate:
		rid, _ := id.Remote()
		s.completeWrite(id, p, classify(s.remote.Update(ctx, rid, p.record)))
	case opDelete:
		rid, _ := id.Remote()
		s.completeDelete(id, p, classify(s.remote.Delete(ctx, rid)))
	}
}

func (s *Store) completeCreate(id calls.ID, p *pendingOp, remoteID calls.ID, err error) {
	var starts []func()

	s.mu.Lock()
	if err != nil {
		p.inFlight = false
		p.err = err
		if p.removed {
			delete(s.pending, id)
		} else if p.next != nil {
			p.record, p.announce = *p.next, p.nextAnnounce
			p.next, p.nextAnnounce = nil, false
		}
		s.mu.Unlock()
		s.reportFailure(p.kind, id, err)
		return
	}

	delete(s.pending, id)
	_, imported := s.imported[id]
	delete(s.imported, id)
	if n, ok := id.Local(); ok {
		s.aliases[n] = remoteID
	}
	for from, to := range s.aliases {
		if to == id {
			s.aliases[from] = remoteID
		}
	}
	if p.removed {
		dp := &pendingOp{kind: opDelete, inFlight: true}
		s.pending[remoteID] = dp
		starts = append(starts, s.launchLocked(remoteID, dp))
	} else {
		s.renameLocked(id, remoteID)
		if p.next != nil {
			next := p.next.Clone()
			next.ID = remoteID
			up := &pendingOp{kind: opUpdate, record: next, announce: p.nextAnnounce, inFlight: true}
			s.pending[remoteID] = up
			starts = append(starts, s.launchLocked(remoteID, up))
		}
	}
	s.mu.Unlock()

	s.log.Debug("record reconciled", "local_id", id.String(), "remote_id", remoteID.String())
	if imported {
		s.forgetLocal(id)
	}
	if !p.removed {
		s.render()
	}
	if p.announce {
		s.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Message: "Call saved"})
	}
	for _, start := range starts {
		start()
	}
}

func (s *Store) completeWrite(id calls.ID, p *pendingOp, err error) {
	var start func()

	s.mu.Lock()
	delete(s.pending, id)
	switch {
	case p.removed:
		dp := &pendingOp{kind: opDelete, inFlight: true}
		s.pending[id] = dp
		start = s.launchLocked(id, dp)
	case p.next != nil:
		kind := opUpdate
		if errors.Is(err, calls.ErrNotFound) {
			kind = opCreate
		}
		np := &pendingOp{kind: kind, record: p.next.Clone(), announce: p.nextAnnounce, inFlight: true}
		s.pending[id] = np
		start = s.launchLocked(id, np)
	case err != nil && !errors.Is(err, calls.ErrNotFound):
		p.inFlight = false
		p.err = err
		s.pending[id] = p
	}
	s.mu.Unlock()

	if err != nil {
		s.reportFailure(p.kind, id, err)
	} else if p.announce {
		s.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Message: "Call saved"})
	}
	if start != nil {
		start()
	}
}

func (s *Store) completeDelete(id calls.ID, p *pendingOp, err error) {
	var start func()

	s.mu.Lock()
	delete(s.pending, id)
	if p.next != nil {
		// Re-saved while the delete was in flight: store it again as a new record.
		np := &pendingOp{kind: opCreate, record: p.next.Clone(), announce: p.nextAnnounce, inFlight: true}
		s.pending[id] = np
		start = s.launchLocked(id, np)
	} else if err != nil && !errors.Is(err, calls.ErrNotFound) {
		p.inFlight = false
		p.err = err
		s.pending[id] = p
	}
	s.mu.Unlock()

	// Deleting an id the server no longer knows is already done.
	if err != nil && !errors.Is(err, calls.ErrNotFound) {
		s.reportFailure(p.kind, id, err)
	}
	if start != nil {
		start()
	}
}

// renameLocked moves the entry under from to to. If to is already listed
// (for example after a reload), the entry under from is dropped instead.
func (s *Store) renameLocked(from, to calls.ID) {
	i := s.indexLocked(from)
	if i < 0 {
		return
	}
	if s.indexLocked(to) >= 0 {
		s.records = append(s.records[:i:i], s.records[i+1:]...)
		return
	}
	s.records[i].ID = to
}

func (s *Store) reportFailure(kind opKind, id calls.ID, err error) {
	s.log.Warn("remote operation failed", "op", string(kind), "record_id", id.String(), "err", err)

	msg := "Could not save call to server"
	switch {
	case errors.Is(err, calls.ErrNotFound):
		msg = "Call no longer exists on server"
	case kind == opDelete:
		msg = "Could not delete call from server"
	}
	s.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: msg, Err: err})
}
