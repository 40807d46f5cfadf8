package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"testtheweb/errs"
	"testtheweb/models"
	"testtheweb/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 54 seconds
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // instrumented pages live on arbitrary origins
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024, // screenshot steps carry inline images
}

// Client is one websocket attached to a recording. It may be a viewer of the
// live step list, an instrumented page reporting events, or both.
type Client struct {
	hub         *RecordingHub
	conn        *websocket.Conn
	send        chan []byte
	recordingID string
	recorders   *service.RecorderManager
}

// RecordingHub fans accepted steps out to the sockets attached to each
// recording.
type RecordingHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewRecordingHub() *RecordingHub {
	return &RecordingHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *RecordingHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("🔌 [%s] Recorder socket connected (total: %d)", client.recordingID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("🔌 [%s] Recorder socket disconnected (total: %d)", client.recordingID, total)
		}
	}
}

// BroadcastToRecording sends message as JSON to every socket attached to
// recordingID. Slow clients drop their oldest queued message.
func (h *RecordingHub) BroadcastToRecording(recordingID string, message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.recordingID != recordingID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			select {
			case <-client.send:
			default:
			}
			select {
			case client.send <- payload:
			default:
				log.Printf("⚠️ [%s] Client channel full, skipping step", recordingID)
			}
		}
	}
}

// Subscribers returns how many sockets follow recordingID.
func (h *RecordingHub) Subscribers(recordingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.recordingID == recordingID {
			n++
		}
	}
	return n
}

// HandleRecordingWebSocket attaches a socket to an existing recording.
func HandleRecordingWebSocket(hub *RecordingHub, recorders *service.RecorderManager, c *gin.Context) {
	id := c.Param("id")
	if _, err := recorders.Get(id); err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 64),
		recordingID: id,
		recorders:   recorders,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump feeds inbound recorder events to the session. Events whose
// source does not match the tracked context are dropped by the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var ev models.RecorderEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("⚠️ [%s] Ignoring malformed recorder message: %v", c.recordingID, err)
			continue
		}
		accepted, err := c.recorders.Deliver(c.recordingID, ev)
		if errs.Is(err, errs.NotFound) {
			log.Printf("[%s] Recording closed, dropping socket", c.recordingID)
			break
		}
		if !accepted {
			log.Printf("🚫 [%s] Dropped %s event from source %q", c.recordingID, ev.Type, ev.Source)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
