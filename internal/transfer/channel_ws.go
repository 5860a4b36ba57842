package transfer

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures the WebSocket companion channel.
type WSConfig struct {
	WriteTimeout time.Duration
	MaxPayload   int
}

// WSChannel serves a single companion subscriber over WebSocket. Frames go
// out as binary messages; command writes come back as messages on the same
// connection. A second subscriber is refused while one is attached.
type WSChannel struct {
	cfg      WSConfig
	upgrader websocket.Upgrader
	sink     *Service
	logger   *zap.Logger

	mu      sync.Mutex // guards conn and pending
	writeMu sync.Mutex // serializes writers; gorilla allows one at a time
	conn    *websocket.Conn
	pending bool // slot reserved by an upgrade still in flight
}

func NewWSChannel(cfg WSConfig, logger *zap.Logger) *WSChannel {
	return &WSChannel{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Bind attaches the protocol service that receives connection events and
// command writes.
func (c *WSChannel) Bind(service *Service) {
	c.sink = service
}

// ServeHTTP upgrades the companion connection. The busy check reserves the
// slot in the same critical section, so two simultaneous upgrades cannot both
// pass it and silently replace each other.
func (c *WSChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	if c.conn != nil || c.pending {
		c.mu.Unlock()
		http.Error(w, "subscriber already attached", http.StatusConflict)
		return
	}
	c.pending = true
	c.mu.Unlock()

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		c.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = false
	c.mu.Unlock()

	c.logger.Info("companion attached", zap.String("remote", conn.RemoteAddr().String()))
	c.sink.HandleConnect()

	go c.readLoop(conn)
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn, err)
			return
		}
		c.sink.HandleCommand(payload)
	}
}

func (c *WSChannel) detach(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	conn.Close()
	c.logger.Info("companion detached", zap.Error(cause))
	c.sink.HandleDisconnect()
}

// Notify writes one frame to the subscriber with a write deadline standing
// in for the transport completion wait.
func (c *WSChannel) Notify(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("notify: no subscriber")
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.BinaryMessage, payload)
	c.writeMu.Unlock()

	if err != nil {
		c.detach(conn, err)
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (c *WSChannel) MaxPayload() int {
	return c.cfg.MaxPayload
}

func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
