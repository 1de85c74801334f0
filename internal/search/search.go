// Package search filters the call history for the list and full-history views.
package search

import (
	"strings"

	"calldesk/internal/calls"
)

// ListLimit caps the list view.
const ListLimit = 20

// TypeAll matches every call type.
const TypeAll = "all"

type Query struct {
	// Type is a call type name or TypeAll. Empty means TypeAll.
	Type string
	Term string
}

// Match reports whether r satisfies q. The term is matched case-insensitively
// against the caller name, phone, notes and account number.
func (q Query) Match(r calls.Record) bool {
	if t := strings.ToLower(strings.TrimSpace(q.Type)); t != "" && t != TypeAll && string(r.CallType) != t {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(q.Term))
	if term == "" {
		return true
	}
	for _, s := range [...]string{r.CallerName, r.CallerPhone, r.Notes, r.AccountNumber} {
		if strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

// Filter returns matches in list order. limit <= 0 means no cap.
func Filter(records []calls.Record, q Query, limit int) []calls.Record {
	out := make([]calls.Record, 0, min(len(records), max(limit, 0)))
	for _, r := range records {
		if !q.Match(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// List is the capped list view.
func List(records []calls.Record, q Query) []calls.Record {
	return Filter(records, q, ListLimit)
}

// Full is the uncapped full-history view.
func Full(records []calls.Record, q Query) []calls.Record {
	return Filter(records, q, 0)
}
