// Package session owns the single in-progress call and its transitions:
// Idle -> Active -> OnHold <-> Active -> Completed.
//
// Invariants:
// - At most one session is live. A second Start is rejected.
// - Every timer of a session lives in one timer.Set that is torn down on End.
// - A completed transition is never reverted by a failed persist.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"calldesk/internal/calls"
	"calldesk/internal/crm"
	"calldesk/internal/history"
	"calldesk/internal/notify"
	"calldesk/internal/timer"
)

const (
	timerClock    = "clock"
	timerHold     = "hold"
	timerAutoSave = "autosave"
)

// Recorder is the part of the History Store the machine writes to.
type Recorder interface {
	Upsert(ctx context.Context, rec calls.Record, opts history.UpsertOptions) error
	Get(id calls.ID) (calls.Record, bool)
	Resolve(id calls.ID) calls.ID
}

// DraftStore keeps the in-progress session so an interrupted call can be recovered.
type DraftStore interface {
	SaveDraft(ctx context.Context, s calls.Session) error
	LoadDraft(ctx context.Context) (calls.Session, bool, error)
	ClearDraft(ctx context.Context) error
}

// Hooks receives lifecycle transitions. Implementations must not block.
type Hooks interface {
	CallStarted(ctx context.Context, s calls.Session)
	CallCompleted(ctx context.Context, rec calls.Record)
	CallEdited(ctx context.Context, rec calls.Record)
}

// Lease guards the single live call across desk processes of one agent.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Display receives the timer ticks.
type Display interface {
	Tick(elapsed time.Duration)
	HoldTick(hold time.Duration)
}

type Options struct {
	Recorder Recorder
	Drafts   DraftStore
	Hooks    Hooks
	Display  Display
	Lease    Lease
	Notifier notify.Notifier
	Logger   *slog.Logger

	Scheduler timer.Scheduler
	Clock     func() time.Time

	// Schema, when set, restricts SetField to known field ids and drives GenerateNotes.
	Schema calls.Schema

	// HoldTickOnStart engages the hold display tick as soon as a call starts.
	HoldTickOnStart bool

	TickInterval     time.Duration // default 1s
	HoldTickInterval time.Duration // default 1s
	AutoSaveInterval time.Duration // default 5s
	DraftTimeout     time.Duration // default 5s
}

type StartRequest struct {
	CallerName  string
	CallerPhone string
	CallType    string
}

type Machine struct {
	recorder Recorder
	drafts   DraftStore
	hooks    Hooks
	display  Display
	lease    Lease
	notifier notify.Notifier
	log      *slog.Logger
	sched    timer.Scheduler
	clock    func() time.Time
	schema   calls.Schema

	holdTickOnStart  bool
	tickInterval     time.Duration
	holdTickInterval time.Duration
	autoSaveInterval time.Duration
	draftTimeout     time.Duration

	// draftMu orders draft writes against the clear on End.
	draftMu sync.Mutex

	mu      sync.Mutex
	current *calls.Session
	timers  *timer.Set
	// input holds edits not yet snapshotted into the session by auto-save.
	input  draftInput
	lastID int64
}

type draftInput struct {
	notes  string
	fields calls.CustomFields
}

var ErrRecorderMissing = errors.New("session: recorder not configured")

func NewMachine(opts Options) (*Machine, error) {
	if opts.Recorder == nil {
		return nil, ErrRecorderMissing
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timer.Ticker{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.HoldTickInterval <= 0 {
		opts.HoldTickInterval = time.Second
	}
	if opts.AutoSaveInterval <= 0 {
		opts.AutoSaveInterval = 5 * time.Second
	}
	if opts.DraftTimeout <= 0 {
		opts.DraftTimeout = 5 * time.Second
	}
	if opts.Schema != nil {
		if err := opts.Schema.Validate(); err != nil {
			return nil, err
		}
	}
	return &Machine{
		recorder:         opts.Recorder,
		drafts:           opts.Drafts,
		hooks:            opts.Hooks,
		display:          opts.Display,
		lease:            opts.Lease,
		notifier:         opts.Notifier,
		log:              opts.Logger.With("component", "session"),
		sched:            opts.Scheduler,
		clock:            opts.Clock,
		schema:           opts.Schema,
		holdTickOnStart:  opts.HoldTickOnStart,
		tickInterval:     opts.TickInterval,
		holdTickInterval: opts.HoldTickInterval,
		autoSaveInterval: opts.AutoSaveInterval,
		draftTimeout:     opts.DraftTimeout,
	}, nil
}

// Start opens a new session. Name and phone are required.
func (m *Machine) Start(ctx context.Context, req StartRequest) (calls.Session, error) {
	name := strings.TrimSpace(req.CallerName)
	phone := strings.TrimSpace(req.CallerPhone)
	if name == "" || phone == "" {
		return calls.Session{}, fmt.Errorf("%w: caller name and phone are required", calls.ErrValidation)
	}
	ct, err := calls.ParseCallType(req.CallType)
	if err != nil {
		return calls.Session{}, err
	}

	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return calls.Session{}, calls.ErrSessionActive
	}
	if m.lease != nil {
		ok, err := m.lease.Acquire(ctx)
		if err != nil {
			m.mu.Unlock()
			return calls.Session{}, fmt.Errorf("%w: acquire lease: %v", calls.ErrStorage, err)
		}
		if !ok {
			m.mu.Unlock()
			return calls.Session{}, calls.ErrSessionActive
		}
	}
	now := m.clock()
	s := &calls.Session{
		ID:          m.nextIDLocked(now),
		CallerName:  name,
		CallerPhone: phone,
		CallType:    ct,
		StartTime:   now,
		Status:      calls.StatusActive,
	}
	m.current = s
	m.input = draftInput{}
	m.timers = timer.NewSet(m.sched)
	m.engageTimersLocked()
	if m.holdTickOnStart {
		m.startHoldTickLocked()
	}
	snap := s.Clone()
	m.mu.Unlock()

	m.log.Info("call started", "call_id", snap.ID.String(), "call_type", string(snap.CallType))
	m.saveDraft(ctx, snap)
	if m.hooks != nil {
		m.hooks.CallStarted(ctx, snap)
	}
	return snap, nil
}

func (m *Machine) Hold(ctx context.Context) (calls.Session, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return calls.Session{}, calls.ErrNoActiveSession
	}
	if err := m.current.Hold(m.clock()); err != nil {
		m.mu.Unlock()
		return calls.Session{}, err
	}
	m.applyInputLocked()
	m.timers.Stop(timerAutoSave)
	m.startHoldTickLocked()
	snap := m.current.Clone()
	m.mu.Unlock()

	m.saveDraft(ctx, snap)
	return snap, nil
}

func (m *Machine) Resume(ctx context.Context) (calls.Session, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return calls.Session{}, calls.ErrNoActiveSession
	}
	if err := m.current.Resume(m.clock()); err != nil {
		m.mu.Unlock()
		return calls.Session{}, err
	}
	m.timers.Stop(timerHold)
	m.startAutoSaveLocked()
	snap := m.current.Clone()
	m.mu.Unlock()

	m.saveDraft(ctx, snap)
	return snap, nil
}

// End completes the session and hands the record to the History Store.
// Persist failures are reported by the store; the session stays completed.
func (m *Machine) End(ctx context.Context) (calls.Record, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return calls.Record{}, calls.ErrNoActiveSession
	}
	m.applyInputLocked()
	rec, err := m.current.Complete(m.clock())
	if err != nil {
		m.mu.Unlock()
		return calls.Record{}, err
	}
	m.timers.StopAll()
	m.timers = nil
	m.current = nil
	m.input = draftInput{}
	m.mu.Unlock()

	m.log.Info("call completed", "call_id", rec.ID.String(), "duration_ms", int64(rec.Duration), "hold_ms", int64(rec.TotalHoldDuration))
	if m.drafts != nil {
		m.draftMu.Lock()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.draftTimeout)
		if err := m.drafts.ClearDraft(dctx); err != nil {
			m.log.Warn("clear draft failed", "call_id", rec.ID.String(), "err", err)
		}
		cancel()
		m.draftMu.Unlock()
	}
	if m.lease != nil {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.draftTimeout)
		if err := m.lease.Release(lctx); err != nil {
			m.log.Warn("release lease failed", "call_id", rec.ID.String(), "err", err)
		}
		cancel()
	}
	if err := m.recorder.Upsert(ctx, rec, history.UpsertOptions{Announce: true}); err != nil {
		m.log.Warn("persist completed call failed", "call_id", rec.ID.String(), "err", err)
	}
	if m.hooks != nil {
		m.hooks.CallCompleted(ctx, rec)
	}
	return rec, nil
}

// Current returns a snapshot of the live session including unsaved edits.
func (m *Machine) Current() (calls.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return calls.Session{}, false
	}
	s := m.current.Clone()
	s.Notes = m.input.notes
	s.CustomData = m.input.fields.Clone()
	return s, true
}

func (m *Machine) UpdateNotes(notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return calls.ErrNoActiveSession
	}
	m.input.notes = notes
	return nil
}

// SetField records a custom field value. An empty value removes the field.
func (m *Machine) SetField(id, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return calls.ErrNoActiveSession
	}
	if len(m.schema) > 0 {
		if _, ok := m.schema.Lookup(id); !ok {
			return fmt.Errorf("%w: unknown field %q", calls.ErrValidation, id)
		}
	}
	if value == "" {
		m.input.fields = m.input.fields.Delete(id)
	} else {
		m.input.fields = m.input.fields.Set(id, value)
	}
	return nil
}

// SetAccount records the account number and the sensitive identifier.
func (m *Machine) SetAccount(accountNumber, sensitiveID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return calls.ErrNoActiveSession
	}
	m.current.AccountNumber = strings.TrimSpace(accountNumber)
	m.current.SensitiveID = strings.TrimSpace(sensitiveID)
	return nil
}

// GenerateNotes appends the schema-driven notes block to the notes being edited.
func (m *Machine) GenerateNotes() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", calls.ErrNoActiveSession
	}
	block := m.schema.GenerateNotes(m.input.fields)
	if block == "" {
		return m.input.notes, nil
	}
	if m.input.notes == "" {
		m.input.notes = block
	} else {
		m.input.notes = m.input.notes + "\n\n" + block
	}
	return m.input.notes, nil
}

// ApplyContact attaches the first CRM match to the session it was looked up for.
// It reports false when that session is no longer live.
func (m *Machine) ApplyContact(id calls.ID, contacts []crm.Contact) bool {
	if len(contacts) == 0 {
		return false
	}
	c := contacts[0]
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != id {
		return false
	}
	m.current.ContactID = c.ID
	m.current.ContactSource = c.Source
	if m.current.AccountNumber == "" {
		m.current.AccountNumber = c.AccountNumber
	}
	return true
}

// Recover restores a session interrupted mid-call and re-engages its timers.
// The recovered session adopts the lease left by the interrupted process.
func (m *Machine) Recover(ctx context.Context) (calls.Session, bool, error) {
	if m.drafts == nil {
		return calls.Session{}, false, nil
	}
	s, ok, err := m.drafts.LoadDraft(ctx)
	if err != nil {
		return calls.Session{}, false, fmt.Errorf("%w: load draft: %v", calls.ErrStorage, err)
	}
	if !ok {
		return calls.Session{}, false, nil
	}
	if err := validateDraft(s); err != nil {
		m.log.Warn("discarding unusable draft", "err", err)
		if cerr := m.drafts.ClearDraft(ctx); cerr != nil {
			m.log.Warn("clear draft failed", "err", cerr)
		}
		return calls.Session{}, false, nil
	}

	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return calls.Session{}, false, calls.ErrSessionActive
	}
	cur := s.Clone()
	m.current = &cur
	m.input = draftInput{notes: cur.Notes, fields: cur.CustomData.Clone()}
	if n, ok := cur.ID.Local(); ok && n > m.lastID {
		m.lastID = n
	}
	m.timers = timer.NewSet(m.sched)
	m.timers.Start(timerClock, m.tickInterval, m.clockTick(m.timers))
	if cur.Status == calls.StatusOnHold {
		m.startHoldTickLocked()
	} else {
		m.startAutoSaveLocked()
	}
	snap := cur.Clone()
	m.mu.Unlock()

	m.log.Info("call recovered", "call_id", snap.ID.String(), "status", string(snap.Status))
	m.notifier.Notify(notify.Notice{Level: notify.LevelInfo, Message: "Recovered call in progress"})
	return snap, true, nil
}

func validateDraft(s calls.Session) error {
	if s.ID.IsZero() {
		return fmt.Errorf("%w: draft without id", calls.ErrValidation)
	}
	switch s.Status {
	case calls.StatusActive:
		if s.HoldStartTime != nil {
			return fmt.Errorf("%w: active draft with open hold", calls.ErrValidation)
		}
	case calls.StatusOnHold:
		if s.HoldStartTime == nil {
			return fmt.Errorf("%w: held draft without hold start", calls.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: draft status %q", calls.ErrValidation, s.Status)
	}
	return nil
}

// nextIDLocked derives a local id from now, strictly greater than the last one issued.
func (m *Machine) nextIDLocked(now time.Time) calls.ID {
	n := now.UnixNano()
	if n <= m.lastID {
		n = m.lastID + 1
	}
	m.lastID = n
	return calls.LocalID(n)
}

func (m *Machine) applyInputLocked() {
	m.current.Notes = m.input.notes
	m.current.CustomData = m.input.fields.Clone()
}

func (m *Machine) engageTimersLocked() {
	m.timers.Start(timerClock, m.tickInterval, m.clockTick(m.timers))
	m.startAutoSaveLocked()
}

func (m *Machine) startHoldTickLocked() {
	set := m.timers
	set.Start(timerHold, m.holdTickInterval, func() {
		m.mu.Lock()
		if m.timers != set || m.current == nil {
			m.mu.Unlock()
			return
		}
		d := m.current.CurrentHold(m.clock())
		m.mu.Unlock()
		if m.display != nil {
			m.display.HoldTick(d)
		}
	})
}

func (m *Machine) startAutoSaveLocked() {
	set := m.timers
	set.Start(timerAutoSave, m.autoSaveInterval, func() {
		m.draftMu.Lock()
		defer m.draftMu.Unlock()
		m.mu.Lock()
		if m.timers != set || m.current == nil || m.current.Status != calls.StatusActive {
			m.mu.Unlock()
			return
		}
		m.applyInputLocked()
		snap := m.current.Clone()
		m.mu.Unlock()
		m.writeDraft(context.Background(), snap)
	})
}

func (m *Machine) clockTick(set *timer.Set) func() {
	return func() {
		m.mu.Lock()
		if m.timers != set || m.current == nil {
			m.mu.Unlock()
			return
		}
		d := m.current.Elapsed(m.clock())
		m.mu.Unlock()
		if m.display != nil {
			m.display.Tick(d)
		}
	}
}

func (m *Machine) saveDraft(ctx context.Context, s calls.Session) {
	m.draftMu.Lock()
	defer m.draftMu.Unlock()
	m.writeDraft(ctx, s)
}

func (m *Machine) writeDraft(ctx context.Context, s calls.Session) {
	if m.drafts == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.draftTimeout)
	defer cancel()
	if err := m.drafts.SaveDraft(dctx, s); err != nil {
		m.log.Warn("save draft failed", "call_id", s.ID.String(), "err", err)
	}
}
