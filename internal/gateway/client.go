package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/concierge/internal/logging"
)

// pongWait is how long a connection may stay silent before it is dropped.
// The server pings every tickInterval, so two missed pongs end it.
const pongWait = 2*tickInterval + writeWait

// Client is one WebSocket connection that completed the connect handshake.
// RemoteKey is the rate-limit key captured at upgrade time.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	RemoteKey   string
	ConnectedAt time.Time

	requests atomic.Int64

	mu     sync.Mutex // serializes writers; gorilla allows one at a time
	closed bool
	log    *logging.Logger
}

func NewClient(conn *websocket.Conn, info ClientInfo, remoteKey string, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		Socket:      conn,
		RemoteKey:   remoteKey,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// Send writes one frame with a write deadline.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(frame)
}

func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame blocks for the next frame. A *FrameError means the message was
// unusable but the connection is still healthy.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	f, err := ParseFrame(msg)
	if err == nil && f.Type == FrameTypeRequest {
		c.requests.Add(1)
	}
	return f, err
}

// Requests is the number of request frames read so far.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// armDeadline starts the read deadline and extends it on every pong. Call
// before the read loop starts.
func (c *Client) armDeadline() {
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		return c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// keepalive pings the peer every interval until stop closes or a ping fails.
func (c *Client) keepalive(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// WriteControl may run alongside Send.
			if err := c.Socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks the live connections for broadcast and shutdown.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("mode", c.Info.Mode).Int("clients", n).Msg("client connected")
}

// Remove drops a connection. Unknown ids are ignored.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	c, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().
			Str("connId", connID).
			Int64("requests", c.Requests()).
			Dur("connected", time.Since(c.ConnectedAt)).
			Msg("client disconnected")
	}
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast pushes an event to every client and returns how many received
// it. A client that cannot be written to is closed and dropped.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("encoding broadcast failed")
		return 0
	}
	sent := 0
	for _, c := range r.snapshot() {
		if err := c.Send(f); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed, dropping client")
			c.Close()
			r.Remove(c.ConnID)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
