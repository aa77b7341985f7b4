package wsensor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The phone app is not a browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the device protocol frame.
type Message struct {
	Type       string `json:"type"`
	StepsToday *int   `json:"stepsToday,omitempty"`
	Status     string `json:"status,omitempty"`
}

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan Message
}

// ServeWs upgrades the request and streams the device's readings for
// userID into the hub until the connection closes.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade for %s: %v", userID, err)
		return
	}
	c := &client{hub: h, userID: userID, conn: conn, send: make(chan Message, 16)}
	h.attach(userID)

	go c.writePump()
	c.send <- Message{Type: "ACK", Status: "connected"}
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.detach(c.userID)
		close(c.send)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("read for %s: %v", c.userID, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(Message{Type: "ERROR", Status: "malformed message"})
			continue
		}
		switch msg.Type {
		case "STEPS":
			if msg.StepsToday == nil || *msg.StepsToday < 0 {
				c.reply(Message{Type: "ERROR", Status: "stepsToday must be >= 0"})
				continue
			}
			c.hub.Report(c.userID, *msg.StepsToday)
			c.reply(Message{Type: "ACK", StepsToday: msg.StepsToday})
		default:
			c.reply(Message{Type: "ERROR", Status: "unknown message type"})
		}
	}
}

// reply queues msg, dropping it when the writer is backed up.
func (c *client) reply(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
