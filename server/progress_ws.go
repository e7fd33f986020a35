package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/vidscope/pulse/progress"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	defaultPingInterval = 30 * time.Second
)

// progressMessage is one frame of the progress feed
type progressMessage struct {
	Type string         `json:"type"` // "snapshot" or "progress"
	Data progress.State `json:"data"`
}

// HandleProgressWebSocket streams tracker updates. ?video= restricts the
// feed to one video. The current state of every tracked video is sent
// first.
func (s *Server) HandleProgressWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	filter := r.URL.Query().Get("video")
	updates := s.Tracker.Subscribe()
	s.clients.Add(1)
	s.logger.Debugw("Progress client connected", "video", filter, "clients", s.clients.Load())

	done := make(chan struct{})
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readProgressClient(conn, done)
	}()
	go func() {
		defer s.wg.Done()
		defer func() {
			s.Tracker.Unsubscribe(updates)
			s.clients.Add(-1)
			conn.Close()
		}()
		s.writeProgressClient(conn, filter, updates, done)
	}()
}

// readProgressClient discards client messages and keeps the read deadline
// moving on pongs. done is closed when the peer goes away.
func (s *Server) readProgressClient(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	pongWait := 2 * s.pingInterval()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debugw("Progress client read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) writeProgressClient(conn *websocket.Conn, filter string, updates <-chan progress.State, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval())
	defer ticker.Stop()

	send := func(msg progressMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debugw("Progress write error", "error", err)
			return false
		}
		return true
	}

	for _, st := range s.Tracker.Snapshot() {
		if filter != "" && st.JobID != filter {
			continue
		}
		if !send(progressMessage{Type: "snapshot", Data: st}) {
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-done:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if filter != "" && st.JobID != filter {
				continue
			}
			if !send(progressMessage{Type: "progress", Data: st}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.ProgressPingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(s.cfg.ProgressPingInterval) * time.Second
}
