package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType tags a feed envelope.
type MessageType string

const (
	FeedMessage       MessageType = "feed"
	PredictionMessage MessageType = "prediction"
	ErrorMessage      MessageType = "error"
	Heartbeat         MessageType = "heartbeat"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Message is the envelope of everything written to a client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ID        string          `json:"id,omitempty"`
}

func NewMessage(t MessageType, data interface{}) (Message, error) {
	msg := Message{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return msg, fmt.Errorf("encode %s message: %w", t, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// MessageHandler answers one client frame. A nil reply sends nothing.
type MessageHandler func(ctx context.Context, payload []byte) *Message

type client struct {
	conn       *websocket.Conn
	send       chan []byte
	id         string
	registered chan struct{}
}

// Feed fans every published message out to all connected websocket
// clients. Run must be running for clients to connect.
type Feed struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	metrics    *Metrics
	done       chan struct{}
	nextID     atomic.Int64
}

// NewFeed creates a hub; allowed lists accepted Origin values, "*" accepts all.
func NewFeed(allowed []string, logger *zap.Logger, metrics *Metrics) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		metrics:    metrics,
		done:       make(chan struct{}),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return f
}

// Run serves registrations and broadcasts until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case c := <-f.register:
			f.mu.Lock()
			f.clients[c] = true
			n := len(f.clients)
			f.mu.Unlock()
			close(c.registered)
			f.setClients(n)
			f.logger.Debug("feed client connected", zap.String("client", c.id), zap.Int("clients", n))

		case c := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[c]; ok {
				delete(f.clients, c)
				close(c.send)
			}
			n := len(f.clients)
			f.mu.Unlock()
			f.setClients(n)
			f.logger.Debug("feed client disconnected", zap.String("client", c.id), zap.Int("clients", n))

		case message := <-f.broadcast:
			f.mu.Lock()
			for c := range f.clients {
				select {
				case c.send <- message:
				default:
					// Slow consumer.
					close(c.send)
					delete(f.clients, c)
				}
			}
			f.mu.Unlock()

		case <-ctx.Done():
			f.mu.Lock()
			for c := range f.clients {
				close(c.send)
				delete(f.clients, c)
			}
			f.mu.Unlock()
			f.setClients(0)
			return
		}
	}
}

func (f *Feed) setClients(n int) {
	if f.metrics != nil {
		f.metrics.FeedClients.Set(float64(n))
	}
}

// Clients reports how many clients are connected.
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Publish broadcasts a message to every client. It never blocks: when the
// queue is full the message is dropped.
func (f *Feed) Publish(t MessageType, data interface{}) error {
	msg, err := NewMessage(t, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case f.broadcast <- payload:
	default:
		f.logger.Warn("feed queue full, dropping message", zap.String("type", string(t)))
	}
	return nil
}

// ServeWS upgrades the connection and registers the client. Frames sent by
// the client are answered through handle.
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request, handle MessageHandler) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		id:         fmt.Sprintf("ws-%d", f.nextID.Add(1)),
		registered: make(chan struct{}),
	}
	select {
	case f.register <- c:
		<-c.registered
	case <-f.done:
		conn.Close()
		return
	}

	go f.writePump(c)
	go f.readPump(c, handle)
}

// reply queues a message for one client, if it is still registered.
func (f *Feed) reply(c *client, msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("encode reply", zap.Error(err))
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
		f.logger.Warn("feed client send buffer full", zap.String("client", c.id))
	}
}

func (f *Feed) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				f.logger.Debug("websocket write", zap.String("client", c.id), zap.Error(err))
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

func (f *Feed) readPump(c *client, handle MessageHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case f.unregister <- c:
		case <-f.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("websocket read", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		if handle == nil {
			continue
		}
		if msg := handle(ctx, payload); msg != nil {
			msg.ID = c.id
			f.reply(c, msg)
		}
	}
}
