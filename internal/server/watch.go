package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/casefinder/internal/conversation"
	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/logging"
	"github.com/soyeahso/casefinder/internal/store"
)

// watchEvent is one frame pushed to conversation watchers.
type watchEvent struct {
	Type   string        `json:"type"` // "state" | "turns" | "reveal"
	State  string        `json:"state,omitempty"`
	Turns  []domain.Turn `json:"turns,omitempty"`
	Prefix string        `json:"prefix,omitempty"`
}

// watchHub fans conversation events out to WebSocket subscribers. The
// admin view uses it to watch a lead's chat as it happens.
type watchHub struct {
	log *logging.Logger

	mu   sync.Mutex
	subs map[string]map[*watcher]bool
}

type watcher struct {
	conn *websocket.Conn
	send chan watchEvent
	once sync.Once
}

func newWatchHub(log *logging.Logger) *watchHub {
	return &watchHub{
		log:  log,
		subs: make(map[string]map[*watcher]bool),
	}
}

func (h *watchHub) subscribe(conversationID string, conn *websocket.Conn) *watcher {
	w := &watcher{conn: conn, send: make(chan watchEvent, 64)}
	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*watcher]bool)
	}
	h.subs[conversationID][w] = true
	h.mu.Unlock()

	go w.writeLoop()
	return w
}

func (h *watchHub) unsubscribe(conversationID string, w *watcher) {
	h.mu.Lock()
	if set, ok := h.subs[conversationID]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.subs, conversationID)
		}
	}
	h.mu.Unlock()
	w.close()
}

// broadcast delivers an event to every watcher of the conversation.
// Slow watchers drop events rather than block the conversation.
func (h *watchHub) broadcast(conversationID string, ev watchEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.subs[conversationID] {
		select {
		case w.send <- ev:
		default:
			h.log.Warn().Str("conversation", conversationID).Msg("watcher too slow, dropping event")
		}
	}
}

func (h *watchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for w := range set {
			w.close()
		}
		delete(h.subs, id)
	}
}

func (w *watcher) writeLoop() {
	for ev := range w.send {
		w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := w.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (w *watcher) close() {
	w.once.Do(func() {
		close(w.send)
		w.conn.Close()
	})
}

// watchHooks bridges orchestrator callbacks into the hub.
func (s *Server) watchHooks(conversationID string) conversation.Hooks {
	return conversation.Hooks{
		State: func(st conversation.State) {
			s.watchers.broadcast(conversationID, watchEvent{Type: "state", State: string(st)})
		},
		Turns: func(turns []domain.Turn) {
			s.watchers.broadcast(conversationID, watchEvent{Type: "turns", Turns: turns})
		},
		Reveal: func(prefix string) {
			s.watchers.broadcast(conversationID, watchEvent{Type: "reveal", Prefix: prefix})
		},
		Intro: func(text string) {
			// Cache the resolved intro on the record for the admin view.
			if _, err := s.conversations.Update(conversationID, store.Patch{IntroComment: &text}); err != nil {
				s.log.Error().Err(err).Str("conversation", conversationID).Msg("intro persistence failed")
			}
		},
	}
}

// handleWatch upgrades to WebSocket and streams conversation events
// until the client disconnects. Requires the conversation token.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(r, id) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if _, err := s.getSession(id); err != nil {
		writeStoreError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	watcher := s.watchers.subscribe(id, conn)
	defer s.watchers.unsubscribe(id, watcher)

	s.log.Debug().Str("conversation", id).Str("remote", r.RemoteAddr).Msg("watcher connected")

	// Read loop exists only to observe disconnects; watchers never
	// send application frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
