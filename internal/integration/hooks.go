// Package integration publishes call lifecycle notifications and talks to the
// CRM. Nothing here blocks the caller: every outbound call runs detached and
// failures are logged.
package integration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"calldesk/internal/calls"
	"calldesk/internal/crm"
	"calldesk/internal/events"
)

type Options struct {
	Bus    *events.Bus
	CRM    crm.Provider
	Logger *slog.Logger

	// OnContacts receives lookup matches for the session they were looked up for.
	OnContacts func(id calls.ID, contacts []crm.Contact)
	// OnLogged receives the CRM id after a successful log-to-CRM.
	OnLogged func(ctx context.Context, id calls.ID, crmID string) error

	// Timeout bounds each CRM call. Default 10s.
	Timeout time.Duration
}

type Hooks struct {
	bus        *events.Bus
	crm        crm.Provider
	log        *slog.Logger
	onContacts func(calls.ID, []crm.Contact)
	onLogged   func(context.Context, calls.ID, string) error
	timeout    time.Duration

	wg sync.WaitGroup
}

func New(opts Options) *Hooks {
	if opts.CRM == nil {
		opts.CRM = crm.Disconnected{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Hooks{
		bus:        opts.Bus,
		crm:        opts.CRM,
		log:        opts.Logger.With("component", "integration", "crm", opts.CRM.Name()),
		onContacts: opts.OnContacts,
		onLogged:   opts.OnLogged,
		timeout:    opts.Timeout,
	}
}

// CallStarted publishes the event and starts an opportunistic contact lookup.
func (h *Hooks) CallStarted(ctx context.Context, s calls.Session) {
	if h.bus != nil {
		h.bus.Publish(ctx, events.Event{Type: events.CallStarted, Record: startedRecord(s), At: s.StartTime})
	}
	if !h.crm.Connected() {
		return
	}
	id, phone := s.ID, s.CallerPhone
	h.detach(ctx, func(ctx context.Context) {
		contacts, err := h.crm.LookupContact(ctx, phone, crm.SearchByPhone)
		if err != nil {
			h.log.Warn("crm lookup failed", "call_id", id.String(), "err", err)
			return
		}
		if len(contacts) == 0 || h.onContacts == nil {
			return
		}
		h.onContacts(id, contacts)
	})
}

// CallCompleted publishes the event and logs the call to the CRM.
func (h *Hooks) CallCompleted(ctx context.Context, rec calls.Record) {
	if h.bus != nil {
		h.bus.Publish(ctx, events.Event{Type: events.CallCompleted, Record: rec, At: rec.EndTime})
	}
	h.logCall(ctx, rec)
}

// CallEdited re-logs the saved record. No bus event is published for edits.
func (h *Hooks) CallEdited(ctx context.Context, rec calls.Record) {
	h.logCall(ctx, rec)
}

// Wait blocks until every detached CRM call has returned.
func (h *Hooks) Wait() { h.wg.Wait() }

func (h *Hooks) logCall(ctx context.Context, rec calls.Record) {
	if !h.crm.Connected() {
		return
	}
	rec = rec.Clone()
	h.detach(ctx, func(ctx context.Context) {
		res, err := h.crm.LogCall(ctx, rec)
		if err != nil {
			h.log.Warn("crm log failed", "call_id", rec.ID.String(), "err", err)
			return
		}
		if !res.Success || res.ID == "" || h.onLogged == nil {
			return
		}
		if err := h.onLogged(ctx, rec.ID, res.ID); err != nil {
			h.log.Warn("attach crm id failed", "call_id", rec.ID.String(), "crm_id", res.ID, "err", err)
		}
	})
}

func (h *Hooks) detach(ctx context.Context, fn func(context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				h.log.Error("crm call panicked", "panic", p)
			}
		}()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()
		fn(cctx)
	}()
}

func startedRecord(s calls.Session) calls.Record {
	return calls.Record{
		ID:                s.ID,
		CallerName:        s.CallerName,
		CallerPhone:       s.CallerPhone,
		CallType:          s.CallType,
		StartTime:         s.StartTime,
		TotalHoldDuration: s.TotalHoldDuration,
		Status:            s.Status,
		Notes:             s.Notes,
		CustomData:        s.CustomData.Clone(),
		AccountNumber:     s.AccountNumber,
		SensitiveID:       s.SensitiveID,
		ContactID:         s.ContactID,
		ContactSource:     s.ContactSource,
	}
}
