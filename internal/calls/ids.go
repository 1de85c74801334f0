package calls

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RemoteIDLength is the length of a server-assigned record id (lowercase hex).
const RemoteIDLength = 24

type idKind uint8

const (
	kindNone idKind = iota
	kindLocal
	kindRemote
)

// ID identifies a call record.
//
// An ID is either Local (client generated from a high-resolution timestamp,
// never sent to the remote store as a path segment) or Remote (assigned by the
// remote store). The zero value is neither and is only valid on a Session that
// has not been started.
type ID struct {
	kind   idKind
	local  int64
	remote string
}

// LocalID wraps a client-generated identifier.
func LocalID(n int64) ID { return ID{kind: kindLocal, local: n} }

// NewLocalID derives a local identifier from t.
func NewLocalID(t time.Time) ID { return LocalID(t.UnixNano()) }

// RemoteID wraps a server-assigned identifier. s must have the remote shape.
func RemoteID(s string) (ID, error) {
	if !IsRemoteID(s) {
		return ID{}, fmt.Errorf("%w: %q is not a remote record id", ErrValidation, s)
	}
	return ID{kind: kindRemote, remote: s}, nil
}

// MustRemoteID is RemoteID for trusted inputs such as tests and fixtures.
func MustRemoteID(s string) ID {
	id, err := RemoteID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsRemoteID reports whether s has the recognizable remote id shape.
func IsRemoteID(s string) bool {
	if len(s) != RemoteIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseID parses the textual form produced by ID.String.
func ParseID(s string) (ID, error) {
	if IsRemoteID(s) {
		return ID{kind: kindRemote, remote: s}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return ID{}, fmt.Errorf("%w: invalid record id %q", ErrValidation, s)
	}
	return LocalID(n), nil
}

func (id ID) IsZero() bool   { return id.kind == kindNone }
func (id ID) IsLocal() bool  { return id.kind == kindLocal }
func (id ID) IsRemote() bool { return id.kind == kindRemote }

// Local returns the local scalar when id is Local.
func (id ID) Local() (int64, bool) { return id.local, id.kind == kindLocal }

// Remote returns the server id when id is Remote.
func (id ID) Remote() (string, bool) { return id.remote, id.kind == kindRemote }

func (id ID) String() string {
	switch id.kind {
	case kindLocal:
		return strconv.FormatInt(id.local, 10)
	case kindRemote:
		return id.remote
	default:
		return ""
	}
}

// MarshalJSON encodes local ids as numbers and remote ids as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case kindLocal:
		return []byte(strconv.FormatInt(id.local, 10)), nil
	case kindRemote:
		return json.Marshal(id.remote)
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ID{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*id = ID{}
			return nil
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid record id %s", ErrValidation, b)
	}
	*id = LocalID(n)
	return nil
}
