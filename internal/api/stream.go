// Live economy event stream over websocket. Each connected client gets
// every event published after it connects; slow clients are dropped rather
// than allowed to stall the feed.

package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const maxStreamConns = 8

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	// Read-only public feed; origin checks belong to a fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var streamConns int32

// handleStream upgrades to websocket and forwards economy events as JSON
// frames until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&streamConns) >= maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("stream upgrade failed", "error", err)
		return
	}
	atomic.AddInt32(&streamConns, 1)
	defer func() {
		atomic.AddInt32(&streamConns, -1)
		conn.Close()
	}()

	events, cancel := s.Econ.Subscribe()
	defer cancel()

	// Drain client frames so pings and close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
