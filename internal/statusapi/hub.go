package statusapi

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// wsBufferSize bounds how many queued messages a slow client tolerates
// before it is dropped rather than blocking the broadcast loop.
const wsBufferSize = 256

// wsMessage is the envelope every event reaches the browser in.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// client is one connected websocket reader.
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// hub fans bus events out to every connected client. It never reads
// anything back from a client — this is a status feed, not a control
// channel.
type hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, wsBufferSize),
	}
}

// run drains register/unregister/broadcast until stopCh closes.
func (h *hub) run(stopCh <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-stopCh:
			return
		}
	}
}

// broadcastJSON marshals msg and queues it for every connected client.
func (h *hub) broadcastJSON(msgType string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		return
	}
	h.broadcast <- payload
}

// clientCount reports how many clients are currently attached.
func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// status feed is one-way; incoming frames are discarded
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
