package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepflow/pkg/planner"
	"github.com/rs/zerolog"
)

const (
	defaultBacklog      = 256
	defaultWriteTimeout = 5 * time.Second
)

// Broadcaster sends every planner event to all connected clients. It
// implements planner.Sink. Recent messages are kept so a client that
// connects mid-run first receives what it missed.
type Broadcaster struct {
	clients      *ClientRegistry
	logger       zerolog.Logger
	writeTimeout time.Duration

	mu         sync.Mutex
	seq        int64
	backlog    []EventMessage
	maxBacklog int
}

// NewBroadcaster creates a broadcaster over the given registry
func NewBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:      clients,
		logger:       logger.With().Str("component", "stream").Logger(),
		writeTimeout: defaultWriteTimeout,
		maxBacklog:   defaultBacklog,
	}
}

// Emit implements planner.Sink
func (b *Broadcaster) Emit(event planner.Event) {
	ts := event.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.Broadcast(EventMessage{
		Event:     string(event.Kind),
		RunID:     event.RunID,
		StepID:    event.StepID,
		Message:   event.Message,
		Data:      event.Data,
		Attempt:   event.Attempt,
		Round:     event.Round,
		Timestamp: ts.UnixMilli(),
	})
}

// Broadcast stamps msg with the next sequence number and sends it to every
// client.
func (b *Broadcaster) Broadcast(msg EventMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msg.Type = "event"
	msg.Seq = b.seq
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	b.backlog = append(b.backlog, msg)
	if len(b.backlog) > b.maxBacklog {
		b.backlog = b.backlog[len(b.backlog)-b.maxBacklog:]
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	clients := b.clients.GetAll()
	if len(clients) == 0 {
		return
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData, b.writeTimeout); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failureCount++
		} else {
			successCount++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}

// Attach replays the backlog to client and registers it for future
// broadcasts. No message is missed or delivered twice.
func (b *Broadcaster) Attach(client *Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, msg := range b.backlog {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := client.WriteMessage(websocket.TextMessage, data, b.writeTimeout); err != nil {
			return err
		}
	}
	b.clients.Add(client)
	return nil
}

// Seq returns the sequence number of the last broadcast message.
func (b *Broadcaster) Seq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
