package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/apprentice-engine/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleSessionEvents streams a session's workflow events as JSON frames.
// The first frame is a "connected" event carrying the current snapshot.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := SessionIDFromContext(r.Context())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe, err := s.manager.Subscribe(ctx, id)
	if err != nil {
		respondServiceError(w, err, "subscribe to events")
		return
	}
	defer unsubscribe()

	snapshot, err := s.manager.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("event stream connected", "session_id", id)

	hello := events.New(id, events.Connected, "Subscribed to session events", snapshot)
	hello.State = snapshot.State
	if err := s.sendEvent(conn, hello); err != nil {
		return
	}

	var wg sync.WaitGroup

	// Reads only detect the client going away
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-stream:
			if !ok {
				break loop
			}
			if err := s.sendEvent(conn, ev); err != nil {
				break loop
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				break loop
			}
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	conn.Close()
	wg.Wait()
	slog.Info("event stream disconnected", "session_id", id)
}

func (s *Server) sendEvent(conn *websocket.Conn, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "error", err)
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send event", "error", err)
		return err
	}
	return nil
}
