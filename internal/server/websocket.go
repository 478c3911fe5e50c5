package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

// Client is a WebSocket connection streaming the state of one execution
type Client struct {
	conn    *websocket.Conn
	id      api.ExecutionID
	updates <-chan *api.ExecutionState
	stop    func()
	close   sync.Once
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsBufferSize   = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// watchExecution upgrades the connection and streams the execution's state,
// starting with its current state. The socket closes once a terminal state
// has been sent
func (s *Server) watchExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	updates, stop := s.engine.Watch(id)
	st, err := s.engine.GetExecution(c.Request.Context(), id)
	if err != nil {
		stop()
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		stop()
		slog.Error("WebSocket upgrade failed",
			log.ExecutionID(id),
			log.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		id:      id,
		updates: updates,
		stop:    stop,
	}
	s.registerWebSocket(client)
	go func() {
		defer s.unregisterWebSocket(client)
		client.run(st)
	}()
}

// Close ends the watch and the underlying connection
func (c *Client) Close() {
	c.close.Do(func() {
		c.stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		_ = c.conn.Close()
	})
}

func (c *Client) run(initial *api.ExecutionState) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	closed := make(chan struct{})
	go c.readMessages(closed)

	if !c.sendState(initial) || initial.IsTerminal() {
		return
	}

	last := initial.UpdatedAt
	for {
		select {
		case <-closed:
			return

		case st, ok := <-c.updates:
			if !ok {
				return
			}
			if st.UpdatedAt.Before(last) {
				continue
			}
			last = st.UpdatedAt
			if !c.sendState(st) || st.IsTerminal() {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

// readMessages drains the client side so control frames are processed.
// Watchers are not expected to send anything
func (c *Client) readMessages(closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) sendState(st *api.ExecutionState) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(api.WatchMessage{
		Type:      api.WatchTypeState,
		Execution: st,
	})
	if err != nil {
		slog.Error("WebSocket write failed",
			log.ExecutionID(c.id),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
