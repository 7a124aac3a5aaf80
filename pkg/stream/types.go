// Package stream fans engine events out to websocket clients.
package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventMessage is the wire form of a planner event.
type EventMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	RunID     string `json:"runId,omitempty"`
	StepID    string `json:"stepId,omitempty"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Round     int    `json:"round,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
}

// Client is a connected websocket subscriber.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IPAddress   string

	writeMu sync.Mutex
}

// WriteMessage writes one frame. Safe for concurrent use.
func (c *Client) WriteMessage(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.Conn.WriteMessage(messageType, data)
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	IPAddress   string    `json:"ipAddress"`
}
