package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/outfield/enrichd/job"
	"github.com/outfield/enrichd/notify"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outgoing message buffer per client
	sendBufferSize = 32
)

// clientMessage is what a connected client may send
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

// serverMessage is the envelope for everything we push to a client
type serverMessage struct {
	Type  string        `json:"type"`
	JobID string        `json:"job_id,omitempty"`
	Data  *job.Progress `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

// wsClient is one WebSocket connection with its subscription handle.
// send is never closed; done marks the client dead so late forwarder
// writes are rejected instead of racing a channel close.
type wsClient struct {
	server    *Server
	conn      *websocket.Conn
	handle    *notify.Handle
	send      chan serverMessage
	done      chan struct{}
	id        string
	closeOnce sync.Once
}

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleWebSocket upgrades the connection and starts the pumps
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		handle: s.notifier.NewHandle(),
		send:   make(chan serverMessage, sendBufferSize),
		done:   make(chan struct{}),
		id:     uuid.New().String(),
	}

	s.logger.Debugw("WebSocket client connected", "client_id", client.id)

	go client.writePump()
	go client.readPump()
}

// close tears the subscription down exactly once
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.handle.Unsubscribe()
		close(c.done)
		c.server.logger.Debugw("WebSocket client disconnected", "client_id", c.id)
	})
}

// readPump handles incoming subscribe/unsubscribe messages
func (c *wsClient) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.server.logger.Warnw("Malformed WebSocket message", "client_id", c.id, "error", err)
			continue
		}

		c.routeMessage(&msg)
	}
}

// routeMessage dispatches one incoming client message
func (c *wsClient) routeMessage(msg *clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.handleSubscribe(msg.JobID)
	case "unsubscribe":
		c.handle.Unsubscribe()
		c.enqueue(serverMessage{Type: "unsubscribed"})
	case "ping":
		// Deadline handled by the pong handler
	default:
		c.server.logger.Debugw("Unknown WebSocket message type",
			"type", msg.Type,
			"client_id", c.id,
		)
	}
}

// handleSubscribe switches the client's handle to jobID. The eager
// snapshot arrives on the new stream, so the client immediately knows
// the job's current state, terminal included.
func (c *wsClient) handleSubscribe(jobID string) {
	if jobID == "" {
		c.enqueue(serverMessage{Type: "error", Error: "job_id is required"})
		return
	}

	ch, err := c.handle.Subscribe(jobID)
	if err != nil {
		c.enqueue(serverMessage{Type: "error", JobID: jobID, Error: err.Error()})
		return
	}

	c.enqueue(serverMessage{Type: "subscribed", JobID: jobID})

	// Forward snapshots until the subscription is torn down
	go func() {
		for p := range ch {
			snapshot := p
			c.enqueue(serverMessage{Type: "progress", JobID: snapshot.JobID, Data: &snapshot})
		}
	}()
}

// enqueue queues a message for the write pump without blocking. Writes
// after disconnect are dropped via the done channel.
func (c *wsClient) enqueue(msg serverMessage) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.server.logger.Debugw("Dropping message for slow WebSocket client",
			"client_id", c.id,
			"type", msg.Type,
		)
	}
}

// writePump writes queued messages and keepalive pings
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("WebSocket write error", "client_id", c.id, "error", err)
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
