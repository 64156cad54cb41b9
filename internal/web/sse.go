package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gshare/internal/syncer"
)

type sseMessage struct {
	event string
	data  []byte
}

// sseHub fans syncer events out to connected /events streams. Slow clients
// drop messages rather than block the publisher.
type sseHub struct {
	mu      sync.Mutex
	clients map[chan sseMessage]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[chan sseMessage]struct{})}
}

func (h *sseHub) add() chan sseMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan sseMessage, 8)
	h.clients[ch] = struct{}{}
	return ch
}

func (h *sseHub) remove(ch chan sseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ch)
	close(ch)
}

func (h *sseHub) broadcast(msg sseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *sseHub) publish(ev syncer.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("encode event", "type", ev.Type, "err", err)
		return
	}
	h.broadcast(sseMessage{event: ev.Type, data: data})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireLogin(w, r); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.events.add()
	defer s.events.remove(ch)

	fmt.Fprint(w, "event: ready\ndata: ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
