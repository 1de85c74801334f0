package callstore

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer     = 32
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Hub fans change messages out to the stream subscribers of one owner.
// A subscriber that falls behind is dropped rather than blocking writers.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[Owner]map[chan Change]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log.With("component", "callstore_stream"), subs: map[Owner]map[chan Change]struct{}{}}
}

// Subscribe returns a channel of changes for o and a function that releases it.
// The channel is closed on release or when the subscriber is dropped.
func (h *Hub) Subscribe(o Owner) (<-chan Change, func()) {
	ch := make(chan Change, streamBuffer)
	h.mu.Lock()
	set, ok := h.subs[o]
	if !ok {
		set = map[chan Change]struct{}{}
		h.subs[o] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.removeLocked(o, ch)
		})
	}
}

func (h *Hub) Publish(o Owner, c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[o] {
		select {
		case ch <- c:
		default:
			h.log.Warn("dropping slow stream subscriber", "workspace_id", o.WorkspaceID, "agent_id", o.AgentID)
			h.removeLocked(o, ch)
		}
	}
}

// Subscribers is the number of live subscribers for o.
func (h *Hub) Subscribers(o Owner) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[o])
}

func (h *Hub) removeLocked(o Owner, ch chan Change) {
	set := h.subs[o]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.subs, o)
	}
}

// Upgrader accepts any origin; CORS policy is applied by the router.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve upgrades the request and streams changes for o until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, o Owner) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	changes, release := h.Subscribe(o)
	defer release()
	defer conn.Close()

	// Reader: consumes control frames and notices the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return nil
		case c, ok := <-changes:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber dropped"))
				return nil
			}
			if err := conn.WriteJSON(c); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
