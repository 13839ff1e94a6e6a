package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/studio"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// wsClient streams session snapshots to one browser tab.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan studio.Snapshot
	done      chan struct{}
	log       zerolog.Logger
}

// push queues a snapshot without blocking the orchestrator. When the client
// falls behind the oldest queued snapshot is dropped; the newest always
// gets in.
func (c *wsClient) push(s studio.Snapshot) {
	for {
		select {
		case <-c.done:
			return
		case c.send <- s:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.id).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:      conn,
		sessionID: sess.id,
		send:      make(chan studio.Snapshot, sendBuffer),
		done:      make(chan struct{}),
		log:       s.log.With().Str("session_id", sess.id).Logger(),
	}
	unsubscribe := sess.orch.Subscribe(func(ev studio.Event) {
		client.push(ev.Snapshot)
	})
	client.push(sess.orch.Snapshot())

	go client.writePump()
	go client.readPump(unsubscribe)
}

// readPump only watches for the peer going away; clients drive the session
// through the REST routes.
func (c *wsClient) readPump(unsubscribe func()) {
	defer func() {
		unsubscribe()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
	}
}

// writePump serialises snapshots in version order, skipping any that arrive
// after a newer one was already sent.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var sent uint64
	first := true
	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case snap := <-c.send:
			if !first && snap.Version <= sent {
				continue
			}
			first = false
			sent = snap.Version

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(newSnapshotResponse(c.sessionID, snap)); err != nil {
				c.log.Warn().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
