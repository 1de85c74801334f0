package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"calldesk/internal/calls"
	"calldesk/internal/history"
	"calldesk/internal/notify"
	"calldesk/internal/search"
	"calldesk/internal/session"
)

const helpText = `commands:
  start <name> | <phone> [| <type>]   open a call
  hold | resume | end                 session transitions
  notes <text>                        replace the notes
  field <id> [value]                  set (or clear) a custom field
  account <number> [sensitive id]     set account details
  gen-notes                           append the generated field notes
  status                              show the live call
  list [type] [term]                  recent calls (20)
  history [type] [term]               every matching call
  edit <id> key=value ...             edit a completed call (name, phone, type, notes, account,
                                      sensitive, field.<id>)
  remove <id>                         delete a call
  sync | pending | import             remote reconciliation
  help | quit`

var errQuit = errors.New("quit")

// console is the line-oriented stand-in for the agent UI.
type console struct {
	m     *session.Machine
	store *history.Store
	// local is the offline layout migrated by "import" in remote mode.
	local history.LocalBackend

	mu  sync.Mutex
	out io.Writer

	elapsed time.Duration
	hold    time.Duration
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Notify implements notify.Notifier as a transient line.
func (c *console) Notify(n notify.Notice) {
	if n.Err != nil {
		c.printf("[%s] %s: %v\n", n.Level, n.Message, n.Err)
		return
	}
	c.printf("[%s] %s\n", n.Level, n.Message)
}

// Tick and HoldTick implement session.Display; "status" renders the latest values.
func (c *console) Tick(elapsed time.Duration) {
	c.mu.Lock()
	c.elapsed = elapsed
	c.mu.Unlock()
}

func (c *console) HoldTick(hold time.Duration) {
	c.mu.Lock()
	c.hold = hold
	c.mu.Unlock()
}

func (c *console) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	c.printf("> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := c.exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			c.printf("error: %v\n", err)
		}
		c.printf("> ")
	}
	return sc.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help":
		c.printf("%s\n", helpText)
	case "quit", "exit":
		return errQuit
	case "start":
		parts := splitPipe(rest)
		req := session.StartRequest{}
		if len(parts) > 0 {
			req.CallerName = parts[0]
		}
		if len(parts) > 1 {
			req.CallerPhone = parts[1]
		}
		if len(parts) > 2 {
			req.CallType = parts[2]
		}
		s, err := c.m.Start(ctx, req)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.elapsed, c.hold = 0, 0
		c.mu.Unlock()
		c.printf("started %s %s (%s)\n", s.ID, s.CallerName, s.CallType)
	case "hold":
		s, err := c.m.Hold(ctx)
		if err != nil {
			return err
		}
		c.printf("on hold %s\n", s.ID)
	case "resume":
		s, err := c.m.Resume(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.hold = 0
		c.mu.Unlock()
		c.printf("resumed %s\n", s.ID)
	case "end":
		rec, err := c.m.End(ctx)
		if err != nil {
			return err
		}
		c.printf("ended %s\n", formatRecord(rec))
	case "notes":
		return c.m.UpdateNotes(rest)
	case "field":
		id, value, _ := strings.Cut(rest, " ")
		return c.m.SetField(id, strings.TrimSpace(value))
	case "account":
		number, sensitive, _ := strings.Cut(rest, " ")
		return c.m.SetAccount(number, strings.TrimSpace(sensitive))
	case "gen-notes":
		notes, err := c.m.GenerateNotes()
		if err != nil {
			return err
		}
		c.printf("notes: %s\n", notes)
	case "status":
		c.status()
	case "list":
		c.printRecords(search.List(c.store.All(), parseQuery(rest)))
	case "history":
		c.printRecords(search.Full(c.store.All(), parseQuery(rest)))
	case "edit":
		return c.edit(ctx, rest)
	case "remove":
		id, err := calls.ParseID(rest)
		if err != nil {
			return err
		}
		return c.store.Remove(ctx, id)
	case "sync":
		c.printf("sync started %d operations\n", c.store.Sync(ctx))
	case "pending":
		ops := c.store.Pending()
		if len(ops) == 0 {
			c.printf("nothing pending\n")
		}
		for _, op := range ops {
			state := "queued"
			if op.InFlight {
				state = "in flight"
			} else if op.Err != nil {
				state = "failed: " + op.Err.Error()
			}
			c.printf("%s %s %s\n", op.ID, op.Op, state)
		}
	case "import":
		return c.importLocal(ctx)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (c *console) status() {
	s, ok := c.m.Current()
	if !ok {
		c.printf("idle\n")
		return
	}
	c.mu.Lock()
	elapsed, segment := c.elapsed, c.hold
	c.mu.Unlock()
	// hold is the completed segments plus the open one, if any.
	hold := s.TotalHoldDuration.Duration()
	if s.Status == calls.StatusOnHold {
		hold += segment
	}
	c.printf("%s %s %s %s elapsed=%s hold=%s\n", s.ID, s.Status, s.CallerName, s.CallerPhone,
		elapsed.Truncate(time.Second), hold.Truncate(time.Second))
	if s.Notes != "" {
		c.printf("  notes: %s\n", s.Notes)
	}
	for _, f := range s.CustomData {
		c.printf("  %s=%s\n", f.ID, f.Value)
	}
}

func (c *console) edit(ctx context.Context, rest string) error {
	raw, tail, _ := strings.Cut(rest, " ")
	if raw == "" {
		return fmt.Errorf("%w: edit needs an id", calls.ErrValidation)
	}
	id, err := calls.ParseID(raw)
	if err != nil {
		return err
	}
	pairs, err := editPairs(tail)
	if err != nil {
		return err
	}
	e, err := c.m.BeginEdit(id)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		k, v := kv[0], kv[1]
		if field, ok := strings.CutPrefix(k, fieldPrefix); ok {
			if v == "" {
				e.CustomData = e.CustomData.Delete(field)
			} else {
				e.CustomData = e.CustomData.Set(field, v)
			}
			continue
		}
		switch k {
		case "name":
			e.CallerName = v
		case "phone":
			e.CallerPhone = v
		case "type":
			ct, err := calls.ParseCallType(v)
			if err != nil {
				return err
			}
			e.CallType = ct
		case "notes":
			e.Notes = v
		case "account":
			e.AccountNumber = v
		case "sensitive":
			e.SensitiveID = v
		}
	}
	rec, err := c.m.SaveEdit(ctx, e)
	if err != nil {
		return err
	}
	c.printf("saved %s\n", formatRecord(rec))
	return nil
}

const fieldPrefix = "field."

func editKey(k string) bool {
	switch k {
	case "name", "phone", "type", "notes", "account", "sensitive":
		return true
	default:
		return len(k) > len(fieldPrefix) && strings.HasPrefix(k, fieldPrefix)
	}
}

// editPairs splits "k1=v one k2=v2" into ordered key/value pairs. A value runs
// up to the next key= that starts a word and keeps its inner whitespace.
func editPairs(s string) ([][2]string, error) {
	type mark struct {
		key        string
		start, val int
	}
	var marks []mark
	for i := 0; i < len(s); {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		j := i
		for j < len(s) && !isSpace(s[j]) {
			j++
		}
		if word := s[i:j]; word != "" {
			if k, _, ok := strings.Cut(word, "="); ok && editKey(k) {
				marks = append(marks, mark{key: k, start: i, val: i + len(k) + 1})
			} else if len(marks) == 0 {
				return nil, fmt.Errorf("%w: expected key=value, got %q", calls.ErrValidation, word)
			}
		}
		i = j
	}
	pairs := make([][2]string, 0, len(marks))
	for n, m := range marks {
		end := len(s)
		if n+1 < len(marks) {
			end = marks[n+1].start
		}
		pairs = append(pairs, [2]string{m.key, strings.TrimSpace(s[m.val:end])})
	}
	return pairs, nil
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

func (c *console) importLocal(ctx context.Context) error {
	if c.store.Mode() != history.ModeRemote {
		return fmt.Errorf("%w: import needs remote mode", calls.ErrValidation)
	}
	if c.local == nil {
		return fmt.Errorf("%w: no local history configured", calls.ErrValidation)
	}
	recs, err := c.local.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", calls.ErrStorage, err)
	}
	n, err := c.store.Import(ctx, recs)
	if err != nil {
		return err
	}
	c.printf("imported %d calls\n", n)
	return nil
}

func (c *console) printRecords(recs []calls.Record) {
	if len(recs) == 0 {
		c.printf("no calls\n")
		return
	}
	for _, r := range recs {
		c.printf("%s\n", formatRecord(r))
	}
}

func formatRecord(r calls.Record) string {
	r = r.Redacted()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %-8s %s %s dur=%s hold=%s",
		r.ID, r.StartTime.Local().Format("2006-01-02 15:04"), r.CallType, r.CallerName, r.CallerPhone,
		r.Duration.Duration(), r.TotalHoldDuration.Duration())
	if r.AccountNumber != "" {
		fmt.Fprintf(&b, " acct=%s", r.AccountNumber)
	}
	if r.SensitiveID != "" {
		fmt.Fprintf(&b, " id=%s", r.SensitiveID)
	}
	if r.Notes != "" {
		fmt.Fprintf(&b, " notes=%q", truncate(r.Notes, 40))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// parseQuery reads "[type] [term...]"; the first word is a type only when it names one.
func parseQuery(rest string) search.Query {
	first, tail, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if strings.EqualFold(first, search.TypeAll) || calls.CallType(strings.ToLower(first)).Valid() {
		return search.Query{Type: first, Term: strings.TrimSpace(tail)}
	}
	return search.Query{Term: strings.TrimSpace(rest)}
}

func splitPipe(s string) []string {
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
