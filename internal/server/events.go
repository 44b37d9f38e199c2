package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"loanflow/internal/loan"
)

const (
	eventBuffer = 32
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
)

// handleEvents streams session events as JSON text frames until the client
// goes away or the session is closed. The current state is sent first as a
// step_changed event. Events are dropped for a client that cannot keep up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session", sess.ID(), "error", err)
		return
	}
	defer conn.Close()

	events := make(chan loan.Event, eventBuffer)
	unsubscribe := sess.Subscribe(func(ev loan.Event) {
		select {
		case events <- ev:
		default:
			s.logger.Warn("dropping session event for slow client", "session", sess.ID(), "event", ev.Type)
		}
	})
	defer unsubscribe()

	// The read side only handles control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	view := sess.Snapshot()
	initial := loan.Event{
		Type:      loan.EventStepChanged,
		SessionID: view.ID,
		Step:      view.Step,
		StepID:    view.StepID,
		Label:     view.PendingLabel,
		RecordID:  view.RecordID,
		At:        time.Now(),
	}
	if err := s.writeEvent(conn, initial); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
			if ev.Type == loan.EventClosed {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev loan.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("writing session event", "session", ev.SessionID, "error", err)
		return err
	}
	return nil
}
