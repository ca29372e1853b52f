package telemetry

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Bus fans a single stream of Events out to any number of subscribers.
// Grounded on the teacher's internal/websocket Hub (register/unregister
// channels guarding client state behind a mutex), generalized from one
// active connection to an arbitrary subscriber set, since telemetry must
// reach every operator dashboard watching a job, not just the most
// recent one.
type Bus struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	seq sync.Map // correlationID string -> *uint64
}

// NewBus constructs a Bus. Callers must invoke Run in its own goroutine.
func NewBus() *Bus {
	return &Bus{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Client is one subscriber's websocket connection.
type Client struct {
	bus  *Bus
	conn *websocket.Conn
	send chan []byte
}

// Run drives registration and broadcast until ctx-independent shutdown;
// callers stop it by closing the process, matching the teacher's
// run-forever hub loop.
func (b *Bus) Run() {
	for {
		select {
		case c := <-b.register:
			b.mutex.Lock()
			b.clients[c] = true
			b.mutex.Unlock()

		case c := <-b.unregister:
			b.mutex.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.send)
			}
			b.mutex.Unlock()

		case message := <-b.broadcast:
			b.mutex.Lock()
			for c := range b.clients {
				select {
				case c.send <- message:
				default:
					log.Printf("telemetry: subscriber send buffer full, dropping connection")
					delete(b.clients, c)
					close(c.send)
				}
			}
			b.mutex.Unlock()
		}
	}
}

// nextSequence returns a monotonically increasing sequence number scoped
// to correlationID (spec §4.10: "totally ordered by correlation id +
// sequence number").
func (b *Bus) nextSequence(correlationID string) uint64 {
	counter, _ := b.seq.LoadOrStore(correlationID, new(uint64))
	return atomic.AddUint64(counter.(*uint64), 1)
}

// Emit stamps the event with its sequence number and broadcasts it to
// every connected subscriber. A subscriber-less bus silently drops the
// event; callers relying on persisted history should also append Event
// to the job's log via models.Job.Log.
func (b *Bus) Emit(eventType EventType, correlationID string, data interface{}) Event {
	evt := Event{
		Type:          eventType,
		CorrelationID: correlationID,
		Sequence:      b.nextSequence(correlationID),
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("telemetry: failed to marshal event %s: %v", eventType, err)
		return evt
	}

	b.mutex.RLock()
	hasSubscribers := len(b.clients) > 0
	b.mutex.RUnlock()

	if hasSubscribers {
		b.broadcast <- payload
	}
	return evt
}

// ServeWS upgrades an HTTP connection into a telemetry subscriber.
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		bus:  b,
		conn: conn,
		send: make(chan []byte, 256),
	}
	b.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.bus.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("telemetry: readPump error: %v", err)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
